// Package mock provides in-memory implementations of the [audio.Platform],
// [audio.OutputDevice], [audio.InputDevice], and [audio.InputStream]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// The output device runs on a manual clock: nothing plays until the test
// calls [OutputDevice.Advance]. Typical usage:
//
//	out := mock.NewOutputDevice(audio.PlaybackFormat)
//	in := mock.NewInputDevice(audio.CaptureFormat)
//	platform := &mock.Platform{Output: out, Input: in}
//	in.Stream.Push([]float32{0.1, 0.2})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ─── Platform ────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// Output is returned by OpenOutput when OpenOutputErr is nil.
	Output *OutputDevice

	// Input is returned by OpenInput when OpenInputErr is nil.
	Input *InputDevice

	// OpenOutputErr, if non-nil, is returned by OpenOutput.
	OpenOutputErr error

	// OpenInputErr, if non-nil, is returned by OpenInput.
	OpenInputErr error

	// OpenOutputCalls records the requested formats.
	OpenOutputCalls []audio.Format

	// OpenInputCalls records the requested formats.
	OpenInputCalls []audio.Format
}

var _ audio.Platform = (*Platform)(nil)

// OpenOutput implements [audio.Platform].
func (p *Platform) OpenOutput(_ context.Context, f audio.Format) (audio.OutputDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenOutputCalls = append(p.OpenOutputCalls, f)
	if p.OpenOutputErr != nil {
		return nil, p.OpenOutputErr
	}
	if p.Output == nil {
		p.Output = NewOutputDevice(f)
	}
	return p.Output, nil
}

// OpenInput implements [audio.Platform].
func (p *Platform) OpenInput(_ context.Context, f audio.Format) (audio.InputDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenInputCalls = append(p.OpenInputCalls, f)
	if p.OpenInputErr != nil {
		return nil, p.OpenInputErr
	}
	if p.Input == nil {
		p.Input = NewInputDevice(f)
	}
	return p.Input, nil
}

// ─── OutputDevice ────────────────────────────────────────────────────────────

// PlayCall records one call to [OutputDevice.Play].
type PlayCall struct {
	Chunk  audio.Chunk
	At     time.Duration
	Source *Source
}

// OutputDevice is a mock [audio.OutputDevice] driven by a manual clock.
type OutputDevice struct {
	mu     sync.Mutex
	format audio.Format
	now    time.Duration
	closed bool

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// PlayCalls records every successful Play call in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.OutputDevice = (*OutputDevice)(nil)

// NewOutputDevice returns an output device at clock zero.
func NewOutputDevice(f audio.Format) *OutputDevice {
	return &OutputDevice{format: f}
}

// Format implements [audio.OutputDevice].
func (d *OutputDevice) Format() audio.Format { return d.format }

// Now implements [audio.OutputDevice].
func (d *OutputDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// Play implements [audio.OutputDevice]. The returned source ends when the
// clock is advanced past its end time or when it is stopped.
func (d *OutputDevice) Play(c audio.Chunk, at time.Duration, onEnded func()) (audio.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, audio.ErrDeviceClosed
	}
	if d.PlayErr != nil {
		return nil, d.PlayErr
	}
	start := max(at, d.now)
	src := &Source{Start: start, End: start + c.Duration(), onEnded: onEnded}
	d.PlayCalls = append(d.PlayCalls, PlayCall{Chunk: c, At: at, Source: src})
	return src, nil
}

// Advance moves the clock forward by d and ends every source whose end time
// has been reached. Ended callbacks run synchronously on the caller's goroutine.
func (d *OutputDevice) Advance(step time.Duration) {
	d.mu.Lock()
	d.now += step
	now := d.now
	var ended []*Source
	for _, pc := range d.PlayCalls {
		if pc.Source.End <= now {
			ended = append(ended, pc.Source)
		}
	}
	d.mu.Unlock()

	for _, s := range ended {
		s.finish()
	}
}

// SetNow sets the clock without ending any sources.
func (d *OutputDevice) SetNow(now time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Plays returns a copy of the recorded Play calls.
func (d *OutputDevice) Plays() []PlayCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PlayCall, len(d.PlayCalls))
	copy(out, d.PlayCalls)
	return out
}

// Closed reports whether Close has been called.
func (d *OutputDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close implements [audio.OutputDevice].
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	d.CallCountClose++
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	plays := d.PlayCalls
	d.mu.Unlock()

	for _, pc := range plays {
		pc.Source.Stop()
	}
	return nil
}

// Source is a mock [audio.Source].
type Source struct {
	Start time.Duration
	End   time.Duration

	mu      sync.Mutex
	stopped bool
	once    sync.Once
	onEnded func()
}

// Stop implements [audio.Source]. The ended callback is dispatched on a new
// goroutine.
func (s *Source) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	go s.finish()
}

// Stopped reports whether Stop was called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Source) finish() {
	s.once.Do(func() {
		if s.onEnded != nil {
			s.onEnded()
		}
	})
}

// ─── InputDevice ─────────────────────────────────────────────────────────────

// InputDevice is a mock [audio.InputDevice].
type InputDevice struct {
	mu     sync.Mutex
	format audio.Format

	// Stream is returned by Microphone when MicrophoneErr is nil.
	Stream *InputStream

	// MicrophoneErr, if non-nil, is returned by Microphone.
	MicrophoneErr error

	// CallCountMicrophone records how many times Microphone was called.
	CallCountMicrophone int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.InputDevice = (*InputDevice)(nil)

// NewInputDevice returns an input device with a fresh scripted stream.
func NewInputDevice(f audio.Format) *InputDevice {
	return &InputDevice{format: f, Stream: NewInputStream()}
}

// Format implements [audio.InputDevice].
func (d *InputDevice) Format() audio.Format { return d.format }

// Microphone implements [audio.InputDevice].
func (d *InputDevice) Microphone(ctx context.Context) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountMicrophone++
	if d.MicrophoneErr != nil {
		return nil, d.MicrophoneErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Stream, nil
}

// Close implements [audio.InputDevice].
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return nil
}

// ─── InputStream ─────────────────────────────────────────────────────────────

// InputStream is a scripted [audio.InputStream]. Frames pushed with
// [InputStream.Push] are returned by Read in order.
type InputStream struct {
	frames chan []float32
	done   chan struct{}
	once   sync.Once

	mu sync.Mutex
	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

var _ audio.InputStream = (*InputStream)(nil)

// NewInputStream returns a stream with room for 64 pending frames.
func NewInputStream() *InputStream {
	return &InputStream{
		frames: make(chan []float32, 64),
		done:   make(chan struct{}),
	}
}

// Push queues a frame for Read. It panics if more than 64 frames are pending.
func (s *InputStream) Push(frame []float32) {
	select {
	case s.frames <- frame:
	default:
		panic("mock: input stream buffer full")
	}
}

// Read implements [audio.InputStream]. It copies at most len(buf) samples of
// the next pushed frame; the remainder of a longer frame is discarded.
func (s *InputStream) Read(buf []float32) (int, error) {
	select {
	case <-s.done:
		return 0, audio.ErrStreamStopped
	default:
	}
	select {
	case <-s.done:
		return 0, audio.ErrStreamStopped
	case f := <-s.frames:
		return copy(buf, f), nil
	}
}

// Stop implements [audio.InputStream].
func (s *InputStream) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return nil
}

// Stopped reports whether Stop was called.
func (s *InputStream) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
