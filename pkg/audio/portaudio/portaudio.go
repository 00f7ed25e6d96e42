//go:build portaudio

// Package portaudio implements [audio.Platform] on the host's default sound
// devices through PortAudio.
//
// Playback uses a callback stream that renders a [mixer.Timeline], so the
// device clock advances exactly with the frames handed to the hardware.
// Capture uses a blocking stream; samples are converted to the requested
// format when the device cannot open it natively.
//
// Building this package requires cgo, the PortAudio headers, and the
// "portaudio" build tag.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mixer"
)

var _ audio.Platform = (*Platform)(nil)

const defaultFramesPerBuffer = 512

// Option configures a [Platform].
type Option func(*Platform)

// WithFramesPerBuffer sets the PortAudio buffer size in frames. Smaller
// buffers lower latency at the cost of more callbacks.
func WithFramesPerBuffer(n int) Option {
	return func(p *Platform) {
		if n > 0 {
			p.framesPerBuffer = n
		}
	}
}

// Platform owns the PortAudio library lifetime.
type Platform struct {
	framesPerBuffer int

	mu     sync.Mutex
	closed bool
}

// Open initialises PortAudio. Call [Platform.Close] to terminate it.
func Open(opts ...Option) (*Platform, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", errors.Join(audio.ErrUnsupported, err))
	}
	p := &Platform{framesPerBuffer: defaultFramesPerBuffer}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close terminates PortAudio. Close is idempotent.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// OpenOutput implements [audio.Platform]. The stream is opened in format f
// and starts rendering silence immediately.
func (p *Platform) OpenOutput(_ context.Context, f audio.Format) (audio.OutputDevice, error) {
	if _, err := portaudio.DefaultOutputDevice(); err != nil {
		return nil, fmt.Errorf("portaudio: open output: %w", errors.Join(audio.ErrUnsupported, err))
	}

	tl := mixer.New(f)
	stream, err := portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), p.framesPerBuffer,
		func(out []float32) { tl.Render(out) })
	if err != nil {
		_ = tl.Close()
		return nil, fmt.Errorf("portaudio: open output %d Hz: %w", f.SampleRate, errors.Join(audio.ErrUnsupported, err))
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = tl.Close()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}
	return &outputDevice{Timeline: tl, stream: stream}, nil
}

// OpenInput implements [audio.Platform]. It only checks that a capture
// device exists; the stream itself is opened by Microphone.
func (p *Platform) OpenInput(_ context.Context, f audio.Format) (audio.InputDevice, error) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w", errors.Join(audio.ErrPermission, err))
	}
	return &inputDevice{format: f, info: info, framesPerBuffer: p.framesPerBuffer}, nil
}

// ─── output ──────────────────────────────────────────────────────────────────

type outputDevice struct {
	*mixer.Timeline
	stream *portaudio.Stream
	once   sync.Once
	err    error
}

func (d *outputDevice) Close() error {
	d.once.Do(func() {
		d.err = errors.Join(d.stream.Stop(), d.stream.Close(), d.Timeline.Close())
	})
	return d.err
}

// ─── input ───────────────────────────────────────────────────────────────────

type inputDevice struct {
	format          audio.Format
	info            *portaudio.DeviceInfo
	framesPerBuffer int

	mu      sync.Mutex
	streams []*inputStream
	closed  bool
}

func (d *inputDevice) Format() audio.Format { return d.format }

// Microphone opens the default input at the requested rate, falling back to
// the device's native rate with software conversion.
func (d *inputDevice) Microphone(ctx context.Context) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, audio.ErrDeviceClosed
	}

	s := &inputStream{
		conv: audio.Converter{Target: d.format},
		buf:  make([]float32, d.framesPerBuffer),
		rate: d.format.SampleRate,
		done: make(chan struct{}),
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(d.format.SampleRate), d.framesPerBuffer, s.buf)
	if err != nil {
		s.rate = int(d.info.DefaultSampleRate)
		slog.Debug("portaudio: input rate not supported natively, converting",
			"requested", d.format.SampleRate, "native", s.rate)
		stream, err = portaudio.OpenDefaultStream(1, 0, d.info.DefaultSampleRate, d.framesPerBuffer, s.buf)
	}
	if err != nil {
		return nil, fmt.Errorf("portaudio: open microphone: %w", errors.Join(audio.ErrPermission, err))
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start microphone: %w", errors.Join(audio.ErrPermission, err))
	}
	s.stream = stream
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *inputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	for _, s := range d.streams {
		errs = append(errs, s.Stop())
	}
	return errors.Join(errs...)
}

type inputStream struct {
	stream *portaudio.Stream
	conv   audio.Converter
	buf    []float32 // device buffer, filled by stream.Read
	rate   int
	carry  []float32 // converted samples not yet returned

	readMu sync.Mutex
	done   chan struct{}
	once   sync.Once
	err    error
}

// Read blocks until len(out) converted samples are available.
func (s *inputStream) Read(out []float32) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for len(s.carry) < len(out) {
		select {
		case <-s.done:
			return 0, audio.ErrStreamStopped
		default:
		}
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("portaudio: input overflowed", "err", err)
			} else {
				select {
				case <-s.done:
					return 0, audio.ErrStreamStopped
				default:
				}
				return 0, fmt.Errorf("portaudio: read microphone: %w", err)
			}
		}
		c := s.conv.Convert(audio.Chunk{Samples: s.buf, SampleRate: s.rate, Channels: 1})
		s.carry = append(s.carry, c.Samples...)
	}
	n := copy(out, s.carry)
	s.carry = s.carry[:copy(s.carry, s.carry[n:])]
	return n, nil
}

// Stop aborts the stream, which unblocks a pending Read, and closes it once
// that Read has returned.
func (s *inputStream) Stop() error {
	s.once.Do(func() {
		close(s.done)
		abortErr := s.stream.Abort()
		s.readMu.Lock()
		defer s.readMu.Unlock()
		s.err = errors.Join(abortErr, s.stream.Close())
	})
	return s.err
}
