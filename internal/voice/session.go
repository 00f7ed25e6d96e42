package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// session is one voice attempt. It owns every resource acquired for the
// attempt and releases them exactly once in teardown.
type session struct {
	c   *Controller
	id  string
	log *slog.Logger

	// Settings captured when the attempt was created.
	cfg       live.SessionConfig
	frameSize int
	messages  Messages

	// ctx lives until teardown and bounds capture and acquisition.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	errMsg     string
	transcript Transcript
	cleaned    bool
	counted    bool // included in the active sessions gauge

	out    audio.OutputDevice
	in     audio.InputDevice
	mic    audio.InputStream
	handle live.SessionHandle
	sched  *playback.Scheduler
	pipe   *capture.Pipeline

	connectStart time.Time
	wg           sync.WaitGroup
}

func newSession(c *Controller) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &session{
		c:         c,
		id:        id,
		log:       slog.Default().With("session_id", id),
		cfg:       c.cfg,
		frameSize: c.frameSize,
		messages:  c.messages,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateConnecting,
	}
}

// start acquires devices in order (output, input, microphone), opens the
// live session, and launches the event loop.
func (s *session) start(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "voice.start", attribute.String("session_id", s.id))
	defer span.End()
	s.c.notify(s)

	// Teardown aborts whatever acquisition is in flight.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(s.ctx, cancel)()

	out, err := s.c.platform.OpenOutput(ctx, audio.PlaybackFormat)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("voice: open output: %w", err), false)
	}
	if !s.hold(func() {
		s.out = out
		s.sched = playback.New(out, playback.WithOnSchedule(func(_, lead time.Duration) {
			s.c.metrics.RecordChunkScheduled(s.ctx, lead)
		}))
	}) {
		s.release("output device", out.Close)
		return s.abort(ctx)
	}

	in, err := s.c.platform.OpenInput(ctx, audio.CaptureFormat)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("voice: open input: %w", err), false)
	}
	if !s.hold(func() { s.in = in }) {
		s.release("input device", in.Close)
		return s.abort(ctx)
	}

	mic, err := in.Microphone(ctx)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("voice: microphone: %w", err), false)
	}
	if !s.hold(func() { s.mic = mic }) {
		s.release("microphone", mic.Stop)
		return s.abort(ctx)
	}

	s.connectStart = time.Now()
	h, err := s.c.provider.Connect(ctx, s.cfg)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("voice: connect: %w", err), true)
	}
	if !s.hold(func() {
		s.handle = h
		s.wg.Add(1)
	}) {
		s.release("live session", h.Close)
		return s.abort(ctx)
	}

	observe.Logger(ctx).Info("voice: session connecting", "session_id", s.id)
	go s.loop(h)
	return nil
}

// hold runs set under the lock unless the attempt has already been torn
// down, in which case it reports false and the caller releases the resource.
func (s *session) hold(set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaned {
		return false
	}
	set()
	return true
}

// fail records a start failure as the attempt's single error message and
// tears the attempt down.
func (s *session) fail(ctx context.Context, err error, connecting bool) error {
	s.mu.Lock()
	cleaned := s.cleaned
	s.mu.Unlock()
	if cleaned {
		return s.abort(ctx)
	}

	msg, outcome := classify(s.messages, err, connecting)
	s.c.metrics.RecordSessionStart(ctx, outcome)
	observe.Logger(ctx).Warn("voice: start failed", "session_id", s.id, "outcome", outcome, "err", err)
	s.teardown(msg)
	return err
}

func (s *session) abort(ctx context.Context) error {
	s.c.metrics.RecordSessionStart(ctx, observe.OutcomeAborted)
	return ErrAborted
}

// loop consumes server events in arrival order until the session ends.
func (s *session) loop(h live.SessionHandle) {
	defer s.wg.Done()
	for ev := range h.Events() {
		if !s.dispatch(ev) {
			return
		}
	}
	// The stream ended without a terminal event.
	s.teardown("")
}

// dispatch handles one server event. It reports false once the session has
// ended.
func (s *session) dispatch(ev live.Event) bool {
	switch ev := ev.(type) {
	case live.OpenEvent:
		s.open()
	case live.AudioEvent:
		s.play(ev)
	case live.InterruptEvent:
		s.interrupt()
	case live.TranscriptEvent:
		s.appendTranscript(ev)
	case live.TurnCompleteEvent:
		s.log.Debug("voice: turn complete")
	case live.ErrorEvent:
		if s.State() == StateConnecting {
			s.c.metrics.RecordSessionStart(s.ctx, observe.OutcomeFailed)
		}
		s.log.Warn("voice: session error", "err", ev.Err)
		s.teardown(s.messages.ConnectionFailed)
		return false
	case live.CloseEvent:
		s.log.Info("voice: session closed by server", "code", ev.Code, "reason", ev.Reason)
		s.teardown("")
		return false
	default:
		s.log.Debug("voice: ignoring event", "type", fmt.Sprintf("%T", ev))
	}
	return true
}

// open moves the attempt to Active and starts streaming the microphone.
func (s *session) open() {
	s.mu.Lock()
	if s.cleaned || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	s.counted = true
	s.pipe = capture.New(s.mic, s.handle.SendRealtimeInput,
		capture.WithFrameSize(s.frameSize),
		capture.WithOnSent(func(err error) { s.c.metrics.RecordFrameSent(s.ctx, err) }),
	)
	s.pipe.Start(s.ctx)
	s.mu.Unlock()

	s.c.metrics.ActiveSessions.Add(s.ctx, 1)
	s.c.metrics.RecordSessionStart(s.ctx, observe.OutcomeActive)
	s.c.metrics.ConnectDuration.Record(s.ctx, time.Since(s.connectStart).Seconds())
	s.log.Info("voice: session active")
	s.c.notify(s)
}

// play schedules one chunk of model speech. A bad chunk is dropped.
func (s *session) play(ev live.AudioEvent) {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched == nil {
		return
	}

	_, err := sched.ScheduleEncoded(ev.Data)
	var cerr *audio.CodecError
	switch {
	case err == nil:
	case errors.As(err, &cerr):
		s.log.Warn("voice: dropping malformed audio", "mime", ev.MIMEType, "err", err)
	case errors.Is(err, playback.ErrStopped):
		s.log.Debug("voice: audio after playback stopped")
	default:
		s.log.Warn("voice: failed to schedule audio", "err", err)
	}
}

func (s *session) interrupt() {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched == nil {
		return
	}
	sched.Interrupt()
	s.c.metrics.RecordInterruption(s.ctx)
}

func (s *session) appendTranscript(ev live.TranscriptEvent) {
	s.mu.Lock()
	if s.cleaned {
		s.mu.Unlock()
		return
	}
	s.transcript.Append(ev.Direction, ev.Text)
	s.mu.Unlock()

	s.c.metrics.RecordTranscriptDelta(s.ctx, ev.Direction.String())
	s.c.notify(s)
}

// teardown ends the attempt. A non-empty msg marks it errored with that
// message. Resources are released in order: live session, microphone,
// capture, playback, input device, output device. Only the first call has
// any effect.
func (s *session) teardown(msg string) {
	s.mu.Lock()
	if s.cleaned {
		s.mu.Unlock()
		return
	}
	s.cleaned = true
	switch {
	case msg != "":
		s.state = StateErrored
		s.errMsg = msg
	case s.state != StateErrored:
		s.state = StateClosed
	}
	s.transcript.Reset()
	counted := s.counted
	s.counted = false
	handle, mic, pipe, sched, in, out := s.handle, s.mic, s.pipe, s.sched, s.in, s.out
	s.handle, s.mic, s.pipe, s.sched, s.in, s.out = nil, nil, nil, nil, nil, nil
	state := s.state
	s.mu.Unlock()

	s.cancel()
	if handle != nil {
		s.release("live session", handle.Close)
	}
	if mic != nil {
		s.release("microphone", mic.Stop)
	}
	if pipe != nil {
		s.release("capture", func() error { pipe.Stop(); return nil })
	}
	if sched != nil {
		s.release("playback", func() error { sched.Stop(); return nil })
	}
	if in != nil {
		s.release("input device", in.Close)
	}
	if out != nil {
		s.release("output device", out.Close)
	}

	if counted {
		s.c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	s.log.Info("voice: session ended", "state", state.String())
	s.c.notify(s)
}

// release runs one release step. Errors and panics are logged so that the
// remaining steps still run.
func (s *session) release(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("voice: release panicked", "resource", what, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		s.log.Warn("voice: release failed", "resource", what, "err", err)
	}
}

// wait blocks until the event loop has exited.
func (s *session) wait() { s.wg.Wait() }

// State returns the attempt's current state.
func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state,
		SessionID: s.id,
		UserText:  s.transcript.User(),
		AIText:    s.transcript.AI(),
		Error:     s.errMsg,
	}
}
