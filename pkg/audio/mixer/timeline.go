// Package mixer implements a software output timeline: scheduled chunks are
// mixed sample-accurately into a render buffer that a hardware backend pulls
// from its real-time callback. The timeline's clock is the number of frames
// rendered so far, which makes it a drop-in [audio.OutputDevice].
package mixer

import (
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.OutputDevice = (*Timeline)(nil)

// defaultEndedQueue is the capacity of the queue feeding ended callbacks to
// the dispatch goroutine.
const defaultEndedQueue = 256

// Option configures a [Timeline] during construction.
type Option func(*Timeline)

// WithEndedQueue sets the capacity of the ended-callback queue. When the
// queue is full, callbacks are dispatched on their own goroutine instead.
func WithEndedQueue(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.ended = make(chan func(), n)
		}
	}
}

// Timeline mixes scheduled chunks onto a frame clock.
//
// [Timeline.Render] is designed to be called from a real-time audio callback:
// it never blocks on application code and never allocates. Ended callbacks
// are handed to a dispatch goroutine.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	format audio.Format

	convMu sync.Mutex
	conv   audio.Converter

	mu     sync.Mutex
	frame  int64 // frames rendered so far
	voices []*voice
	closed bool

	// tailAt is the nominal end time of the last scheduled chunk and tail
	// its end frame. A chunk starting exactly at tailAt starts at tail, so
	// back-to-back chunks stay contiguous however durations were rounded.
	tailAt time.Duration
	tail   int64

	ended chan func()
	done  chan struct{}
	wg    sync.WaitGroup
}

// New creates a Timeline rendering interleaved samples in format f and
// starts its dispatch goroutine. Call [Timeline.Close] to stop it.
func New(f audio.Format, opts ...Option) *Timeline {
	if f.Channels < 1 {
		f.Channels = 1
	}
	if f.SampleRate <= 0 {
		f.SampleRate = audio.PlaybackSampleRate
	}
	t := &Timeline{
		format: f,
		conv:   audio.Converter{Target: f},
		ended:  make(chan func(), defaultEndedQueue),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	t.wg.Add(1)
	go t.dispatch()
	return t
}

// Format implements [audio.OutputDevice].
func (t *Timeline) Format() audio.Format { return t.format }

// Now implements [audio.OutputDevice]. It is the rendered frame count
// converted to time.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameTime(t.frame)
}

// Play implements [audio.OutputDevice]. c is converted to the timeline's
// format; its first frame is rendered at the frame nearest to at.
func (t *Timeline) Play(c audio.Chunk, at time.Duration, onEnded func()) (audio.Source, error) {
	nominal := c.Duration()
	t.convMu.Lock()
	c = t.conv.Convert(c)
	t.convMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, audio.ErrDeviceClosed
	}
	start := t.timeFrame(at)
	if at == t.tailAt && t.tail > 0 {
		start = t.tail
	}
	v := &voice{
		t:       t,
		samples: c.Samples,
		start:   max(start, t.frame),
		onEnded: onEnded,
	}
	t.tailAt = at + nominal
	t.tail = v.start + int64(len(v.samples)/t.format.Channels)
	if len(v.samples) < t.format.Channels {
		v.finished = true
		t.notifyLocked(onEnded)
		return v, nil
	}
	t.voices = append(t.voices, v)
	return v, nil
}

// Render fills out with the next len(out)/channels frames of mixed audio and
// advances the clock. Samples are clamped to [-1, 1]. After Close, Render
// writes silence and the clock stops.
func (t *Timeline) Render(out []float32) {
	clear(out)
	ch := t.format.Channels
	n := int64(len(out) / ch)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	from, to := t.frame, t.frame+n
	kept := t.voices[:0]
	for _, v := range t.voices {
		end := v.start + int64(len(v.samples)/ch)
		lo, hi := max(v.start, from), min(end, to)
		for f := lo; f < hi; f++ {
			src := int(f-v.start) * ch
			dst := int(f-from) * ch
			for c := range ch {
				out[dst+c] += v.samples[src+c]
			}
		}
		if end <= to {
			v.finished = true
			t.notifyLocked(v.onEnded)
			continue
		}
		kept = append(kept, v)
	}
	clear(t.voices[len(kept):])
	t.voices = kept

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	t.frame = to
}

// Pending returns the number of voices not yet finished.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Close stops every voice, fires their ended callbacks, and stops the
// dispatch goroutine once the callbacks have run. Close is idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, v := range t.voices {
		v.finished = true
		t.notifyLocked(v.onEnded)
	}
	t.voices = nil
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()
	return nil
}

// notifyLocked queues fn for the dispatch goroutine. Must be called with
// t.mu held. It never blocks.
func (t *Timeline) notifyLocked(fn func()) {
	if fn == nil {
		return
	}
	select {
	case t.ended <- fn:
	default:
		go fn()
	}
}

// dispatch runs ended callbacks outside the render path until Close, then
// drains whatever is still queued.
func (t *Timeline) dispatch() {
	defer t.wg.Done()
	for {
		select {
		case fn := <-t.ended:
			fn()
		case <-t.done:
			for {
				select {
				case fn := <-t.ended:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (t *Timeline) frameTime(f int64) time.Duration {
	return time.Duration(f) * time.Second / time.Duration(t.format.SampleRate)
}

// timeFrame rounds d to the nearest frame so that chunk boundaries computed
// from truncated durations still line up.
func (t *Timeline) timeFrame(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	rate := int64(t.format.SampleRate)
	return (int64(d)*rate + int64(time.Second)/2) / int64(time.Second)
}

// voice is one scheduled chunk. All fields except the immutable ones are
// guarded by t.mu.
type voice struct {
	t        *Timeline
	samples  []float32
	start    int64
	onEnded  func()
	finished bool
}

// Stop implements [audio.Source].
func (v *voice) Stop() {
	t := v.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if v.finished {
		return
	}
	v.finished = true
	for i, other := range t.voices {
		if other == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			break
		}
	}
	t.notifyLocked(v.onEnded)
}
