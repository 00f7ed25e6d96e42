// Package capture streams microphone audio to a sender as encoded frames.
//
// A [Pipeline] runs two goroutines: a reader that pulls fixed-size frames
// from an [audio.InputStream] and encodes them, and a sender that drains
// the encoded frames in capture order. Reading never waits for a send to
// finish, so a slow network write does not stall the microphone.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

const (
	// DefaultFrameSize is the number of samples per captured frame. At 16 kHz
	// this is 128 ms of audio.
	DefaultFrameSize = 2048

	// DefaultQueueDepth is the number of encoded frames that may wait for the
	// sender before the reader blocks.
	DefaultQueueDepth = 64
)

// Sender delivers one encoded frame, typically over an open live session.
type Sender func(audio.EncodedFrame) error

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithFrameSize sets the number of samples per frame.
func WithFrameSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

// WithQueueDepth sets the capacity of the send queue.
func WithQueueDepth(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueDepth = n
		}
	}
}

// WithFormat sets the format stamped on captured chunks. Defaults to
// [audio.CaptureFormat].
func WithFormat(f audio.Format) Option {
	return func(p *Pipeline) {
		if f.IsValid() {
			p.format = f
		}
	}
}

// WithOnSent registers a callback invoked after each send with its result.
// Used for metrics; must not block.
func WithOnSent(fn func(err error)) Option {
	return func(p *Pipeline) {
		p.onSent = fn
	}
}

// Pipeline captures, encodes, and sends microphone frames.
type Pipeline struct {
	stream     audio.InputStream
	send       Sender
	frameSize  int
	queueDepth int
	format     audio.Format
	onSent     func(error)

	queue chan audio.EncodedFrame
	stop  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// New creates a Pipeline reading from stream and handing frames to send.
// Nothing happens until [Pipeline.Start].
func New(stream audio.InputStream, send Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		stream:     stream,
		send:       send,
		frameSize:  DefaultFrameSize,
		queueDepth: DefaultQueueDepth,
		format:     audio.CaptureFormat,
		stop:       make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.queue = make(chan audio.EncodedFrame, p.queueDepth)
	return p
}

// Start launches the reader and sender goroutines. Capture runs until the
// input stream is stopped, ctx is cancelled, or [Pipeline.Stop] is called.
// Calling Start more than once has no effect.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.wg.Add(2)
	go p.read(ctx)
	go p.drain()
}

// Stop ends capture and waits for both goroutines to exit. Frames still
// queued are abandoned. The input stream is owned by the caller, who must
// stop it first so that a pending Read returns. Stop is idempotent.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Pipeline) read(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.queue)

	buf := make([]float32, p.frameSize)
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := p.stream.Read(buf)
		if err != nil {
			if !errors.Is(err, audio.ErrStreamStopped) {
				slog.Warn("capture: read failed, stopping", "err", err)
			}
			return
		}
		if n == 0 {
			continue
		}

		frame := audio.Encode(audio.NewChunk(buf[:n], p.format))
		select {
		case p.queue <- frame:
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain sends queued frames in order. A failed send is logged and does not
// end capture.
func (p *Pipeline) drain() {
	defer p.wg.Done()
	for frame := range p.queue {
		select {
		case <-p.stop:
			return
		default:
		}
		err := p.send(frame)
		if err != nil {
			slog.Debug("capture: send failed", "err", err)
		}
		if p.onSent != nil {
			p.onSent(err)
		}
	}
}
