// Package playback schedules streamed speech chunks on an output device so
// that consecutive chunks play back-to-back without gaps or overlap, and so
// that all queued speech can be cut off at once when the user barges in.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrStopped is returned by [Scheduler.Schedule] after [Scheduler.Stop].
var ErrStopped = errors.New("playback: scheduler stopped")

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithFormat sets the format used to decode encoded chunks in
// [Scheduler.ScheduleEncoded]. Defaults to [audio.PlaybackFormat].
func WithFormat(f audio.Format) Option {
	return func(s *Scheduler) {
		if f.IsValid() {
			s.format = f
		}
	}
}

// WithOnSchedule registers a callback invoked after every successful
// Schedule with the chunk's start time and the lead over the device clock
// at that moment. Used for metrics; must not block.
func WithOnSchedule(fn func(start, lead time.Duration)) Option {
	return func(s *Scheduler) {
		s.onSchedule = fn
	}
}

// Scheduler keeps a single timeline cursor on an [audio.OutputDevice].
// Each chunk starts at max(cursor, device clock), and the cursor then
// advances by the chunk's duration. Chunks must be scheduled in stream
// order; out-of-order delivery is not supported.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out        audio.OutputDevice
	format     audio.Format
	onSchedule func(start, lead time.Duration)

	mu        sync.Mutex
	nextStart time.Duration
	active    map[audio.Source]struct{}
	stopped   bool
}

// New creates a Scheduler on out. The timeline starts at the device's
// current clock.
func New(out audio.OutputDevice, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:       out,
		format:    audio.PlaybackFormat,
		active:    make(map[audio.Source]struct{}),
		nextStart: out.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ScheduleEncoded decodes base64 16-bit PCM and schedules it. A decode
// failure is returned as a *[audio.CodecError] and nothing is scheduled.
func (s *Scheduler) ScheduleEncoded(data string) (time.Duration, error) {
	pcm, err := audio.Decode(data)
	if err != nil {
		return 0, err
	}
	return s.Schedule(audio.DecodeAudioData(pcm, s.format.SampleRate, s.format.Channels))
}

// Schedule plays c at max(next start, device clock) and advances the
// timeline by c's duration. It returns the chosen start time. A chunk of
// zero duration is a no-op.
func (s *Scheduler) Schedule(c audio.Chunk) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0, ErrStopped
	}
	d := c.Duration()
	if d <= 0 {
		return s.nextStart, nil
	}

	now := s.out.Now()
	startAt := max(s.nextStart, now)

	// The ended callback cannot run before s.mu is released, so src is
	// always assigned by the time it reads it.
	var src audio.Source
	src, err := s.out.Play(c, startAt, func() { s.ended(src) })
	if err != nil {
		return 0, fmt.Errorf("playback: schedule: %w", err)
	}
	s.active[src] = struct{}{}
	s.nextStart = startAt + d

	if s.onSchedule != nil {
		s.onSchedule(startAt, startAt-now)
	}
	return startAt, nil
}

// ended is the completion callback for one source. It runs on a device
// goroutine.
func (s *Scheduler) ended(src audio.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, src)
}

// Interrupt force-stops every active source, clears the set, and resets the
// timeline to zero so the next chunk re-anchors to the device clock. Safe to
// call when nothing is playing.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	n := len(s.active)
	s.interruptLocked()
	s.mu.Unlock()

	if n > 0 {
		slog.Debug("playback: interrupted", "sources", n)
	}
}

// Stop interrupts playback and rejects all further Schedule calls.
// Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.interruptLocked()
}

// interruptLocked must be called with s.mu held. Sources are stopped under
// the lock; [audio.OutputDevice] guarantees Stop never calls back into
// ended synchronously.
func (s *Scheduler) interruptLocked() {
	for src := range s.active {
		src.Stop()
	}
	clear(s.active)
	s.nextStart = 0
}

// NextStart returns the current timeline cursor.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Active returns the number of scheduled sources that have not ended.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
