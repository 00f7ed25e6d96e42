package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/live"
	livemock "github.com/MrWong99/parley/pkg/provider/live/mock"
)

// harness wires a Controller to in-memory audio devices and a scripted live
// session, and records every snapshot the observer receives.
type harness struct {
	ctrl     *Controller
	provider *livemock.Provider
	sess     *livemock.Session
	platform *audiomock.Platform
	out      *audiomock.OutputDevice
	in       *audiomock.InputDevice

	mu    sync.Mutex
	snaps []Snapshot
	seen  chan Snapshot
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		sess: livemock.NewSession(),
		out:  audiomock.NewOutputDevice(audio.PlaybackFormat),
		in:   audiomock.NewInputDevice(audio.CaptureFormat),
		seen: make(chan Snapshot, 256),
	}
	h.provider = &livemock.Provider{Session: h.sess}
	h.platform = &audiomock.Platform{Output: h.out, Input: h.in}

	opts = append([]Option{
		WithMetrics(m),
		WithFrameSize(4),
		WithObserver(func(s Snapshot) {
			h.mu.Lock()
			h.snaps = append(h.snaps, s)
			h.mu.Unlock()
			h.seen <- s
		}),
	}, opts...)
	h.ctrl = New(h.provider, h.platform, live.SessionConfig{Voice: "Kore"}, opts...)
	t.Cleanup(func() { _ = h.ctrl.Close() })
	return h
}

// waitState blocks until the observer reports state.
func (h *harness) waitState(t *testing.T, state State) Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.seen:
			if s.State == state {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s (now %s)", state, h.ctrl.Snapshot().State)
		}
	}
}

func (h *harness) snapshots() []Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Snapshot, len(h.snaps))
	copy(out, h.snaps)
	return out
}

// activate starts a session and acknowledges it.
func (h *harness) activate(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sess.Emit(live.OpenEvent{})
	h.waitState(t, StateActive)
}

// scheduler returns the current attempt's playback scheduler.
func (h *harness) scheduler() *playback.Scheduler {
	h.ctrl.mu.Lock()
	s := h.ctrl.cur
	h.ctrl.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// speech returns an encoded audio event of d at the playback rate.
func speech(d time.Duration) live.AudioEvent {
	n := int(d.Seconds() * float64(audio.PlaybackSampleRate))
	f := audio.Encode(audio.NewChunk(make([]float32, n), audio.PlaybackFormat))
	return live.AudioEvent{MIMEType: f.MIMEType, Data: f.Data}
}

func TestController_IdleBeforeStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if got := h.ctrl.Snapshot().State; got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}

func TestController_MicrophoneDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.in.MicrophoneErr = fmt.Errorf("device busy: %w", audio.ErrPermission)

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, audio.ErrPermission) {
		t.Fatalf("Start error = %v, want ErrPermission", err)
	}

	snaps := h.snapshots()
	var states []State
	errorsShown := 0
	for _, s := range snaps {
		states = append(states, s.State)
		if s.State == StateActive {
			t.Error("attempt reached active")
		}
		if s.Error != "" {
			errorsShown++
		}
	}
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateErrored {
		t.Errorf("states = %v, want [connecting errored]", states)
	}
	if errorsShown != 1 {
		t.Errorf("error snapshots = %d, want 1", errorsShown)
	}
	if got := h.ctrl.Snapshot().Error; got != DefaultMessages().PermissionDenied {
		t.Errorf("error = %q, want %q", got, DefaultMessages().PermissionDenied)
	}
	if calls := h.provider.Calls(); len(calls) != 0 {
		t.Errorf("Connect called %d times, want 0", len(calls))
	}
	if !h.out.Closed() {
		t.Error("output device not released")
	}
	if h.in.CallCountClose != 1 {
		t.Errorf("input device closed %d times, want 1", h.in.CallCountClose)
	}
}

func TestController_UnsupportedFailsBeforeNetwork(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithMessages(Messages{Unsupported: "no audio here"}))
	h.platform.OpenOutputErr = audio.ErrUnsupported

	if err := h.ctrl.Start(context.Background()); !errors.Is(err, audio.ErrUnsupported) {
		t.Fatalf("Start error = %v, want ErrUnsupported", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.State != StateErrored || snap.Error != "no audio here" {
		t.Errorf("snapshot = %+v, want errored with custom message", snap)
	}
	if len(h.platform.OpenInputCalls) != 0 {
		t.Error("input opened after output failed")
	}
	if len(h.provider.Calls()) != 0 {
		t.Error("Connect called after output failed")
	}
}

func TestController_ConnectFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.ConnectErr = errors.New("dial refused")

	if err := h.ctrl.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded, want error")
	}
	snap := h.ctrl.Snapshot()
	if snap.State != StateErrored {
		t.Errorf("state = %s, want errored", snap.State)
	}
	if snap.Error != DefaultMessages().ConnectionFailed {
		t.Errorf("error = %q, want %q", snap.Error, DefaultMessages().ConnectionFailed)
	}
	if !h.in.Stream.Stopped() {
		t.Error("microphone not stopped")
	}
}

func TestController_SessionConfigPassedThrough(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := h.provider.Calls()
	if len(calls) != 1 || calls[0].Voice != "Kore" {
		t.Errorf("Connect calls = %+v", calls)
	}
	if got := h.platform.OpenOutputCalls; len(got) != 1 || got[0] != audio.PlaybackFormat {
		t.Errorf("output formats = %v", got)
	}
	if got := h.platform.OpenInputCalls; len(got) != 1 || got[0] != audio.CaptureFormat {
		t.Errorf("input formats = %v", got)
	}
}

func TestController_ReconfigureAppliesToNextAttempt(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	h.ctrl.Reconfigure(live.SessionConfig{Voice: "Puck"}, 0, Messages{ConnectionFailed: "offline"})
	h.ctrl.Cleanup()

	h.provider.Session = livemock.NewSession()
	h.provider.ConnectErr = errors.New("dial refused")
	h.platform.Output = audiomock.NewOutputDevice(audio.PlaybackFormat)
	h.platform.Input = audiomock.NewInputDevice(audio.CaptureFormat)
	if err := h.ctrl.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded, want error")
	}

	calls := h.provider.Calls()
	if len(calls) != 2 || calls[0].Voice != "Kore" || calls[1].Voice != "Puck" {
		t.Errorf("Connect calls = %+v", calls)
	}
	if got := h.ctrl.Snapshot().Error; got != "offline" {
		t.Errorf("error = %q, want %q", got, "offline")
	}
}

func TestController_OpenStartsCapture(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	h.in.Stream.Push([]float32{0.5, -0.5, 0.25, 0})
	select {
	case f := <-h.sess.SentFrames():
		if f.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mime = %q", f.MIMEType)
		}
		want := audio.Encode(audio.NewChunk([]float32{0.5, -0.5, 0.25, 0}, audio.CaptureFormat))
		if f != want {
			t.Errorf("frame = %+v, want %+v", f, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sent")
	}
}

func TestController_NoCaptureBeforeOpen(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.in.Stream.Push([]float32{0.1, 0.1, 0.1, 0.1})
	select {
	case <-h.sess.SentFrames():
		t.Error("frame sent before the session opened")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestController_GaplessPlayback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	for range 3 {
		h.sess.Emit(speech(500 * time.Millisecond))
	}
	waitFor(t, "three scheduled chunks", func() bool { return len(h.out.Plays()) == 3 })

	plays := h.out.Plays()
	for i, p := range plays {
		want := time.Duration(i) * 500 * time.Millisecond
		if p.At != want {
			t.Errorf("chunk %d starts at %v, want %v", i, p.At, want)
		}
		if i > 0 && p.At != plays[i-1].Source.End {
			t.Errorf("chunk %d: gap or overlap with previous chunk", i)
		}
	}
	if span := plays[2].Source.End - plays[0].At; span != 1500*time.Millisecond {
		t.Errorf("total span = %v, want 1.5s", span)
	}
}

func TestController_InterruptFlushesPlayback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	h.sess.Emit(speech(500 * time.Millisecond))
	waitFor(t, "scheduled chunk", func() bool { return len(h.out.Plays()) == 1 })

	h.sess.Emit(live.InterruptEvent{})
	sched := h.scheduler()
	waitFor(t, "flush", func() bool { return sched.Active() == 0 && sched.NextStart() == 0 })

	if !h.out.Plays()[0].Source.Stopped() {
		t.Error("playing chunk was not stopped")
	}

	// The next chunk anchors to the device clock, not the stale timeline.
	h.out.SetNow(2 * time.Second)
	h.sess.Emit(speech(100 * time.Millisecond))
	waitFor(t, "second chunk", func() bool { return len(h.out.Plays()) == 2 })
	if got := h.out.Plays()[1].At; got != 2*time.Second {
		t.Errorf("post-interrupt start = %v, want 2s", got)
	}
}

func TestController_MalformedAudioIsDropped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	h.sess.Emit(live.AudioEvent{MIMEType: "audio/pcm;rate=24000", Data: "not base64!"})
	h.sess.Emit(speech(100 * time.Millisecond))
	waitFor(t, "valid chunk", func() bool { return len(h.out.Plays()) == 1 })

	if got := h.ctrl.Snapshot().State; got != StateActive {
		t.Errorf("state = %s, want active", got)
	}
}

func TestController_TranscriptAccumulates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	for _, r := range []string{"П", "р", "и", "в", "е"} {
		h.sess.Emit(live.TranscriptEvent{Direction: live.DirectionOutput, Text: r})
	}
	h.sess.Emit(live.TranscriptEvent{Direction: live.DirectionInput, Text: "hi"})
	h.sess.Emit(live.TurnCompleteEvent{})

	waitFor(t, "transcripts", func() bool {
		s := h.ctrl.Snapshot()
		return s.AIText == "Приве" && s.UserText == "hi"
	})
}

func TestController_CleanupIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)
	h.sess.Emit(live.TranscriptEvent{Direction: live.DirectionOutput, Text: "hello"})
	h.sess.Emit(speech(500 * time.Millisecond))
	waitFor(t, "scheduled chunk", func() bool { return len(h.out.Plays()) == 1 })
	sched := h.scheduler()

	h.ctrl.Cleanup()
	first := h.ctrl.Snapshot()
	h.ctrl.Cleanup()
	second := h.ctrl.Snapshot()

	if first != second {
		t.Errorf("snapshots differ: %+v vs %+v", first, second)
	}
	if first.State != StateClosed {
		t.Errorf("state = %s, want closed", first.State)
	}
	if first.AIText != "" || first.UserText != "" {
		t.Errorf("transcripts not cleared: %+v", first)
	}
	if n := h.sess.Closes(); n != 1 {
		t.Errorf("session closed %d times, want 1", n)
	}
	if n := h.in.Stream.CallCountStop; n != 1 {
		t.Errorf("microphone stopped %d times, want 1", n)
	}
	if !h.out.Closed() || h.in.CallCountClose != 1 {
		t.Error("devices not released")
	}
	if sched.Active() != 0 || sched.NextStart() != 0 {
		t.Errorf("playback not reset: active=%d next=%v", sched.Active(), sched.NextStart())
	}
}

func TestController_ErrorEvent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	h.sess.Emit(live.ErrorEvent{Err: errors.New("stream reset")})
	snap := h.waitState(t, StateErrored)

	if snap.Error != DefaultMessages().ConnectionFailed {
		t.Errorf("error = %q", snap.Error)
	}
	if h.sess.Closes() != 1 {
		t.Error("session not closed")
	}
	if !h.in.Stream.Stopped() {
		t.Error("microphone not stopped")
	}
}

func TestController_RemoteClose(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	h.sess.EndRemotely(live.CloseEvent{Code: 1000})
	snap := h.waitState(t, StateClosed)
	if snap.Error != "" {
		t.Errorf("error = %q, want none", snap.Error)
	}
	if !h.out.Closed() {
		t.Error("output device not released")
	}
}

func TestController_StreamEndsWithoutEvent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	_ = h.sess.Close()
	h.waitState(t, StateClosed)
}

func TestController_StartWhileRunningIsBusy(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start while connecting = %v, want ErrBusy", err)
	}

	h.sess.Emit(live.OpenEvent{})
	h.waitState(t, StateActive)
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Start while active = %v, want ErrBusy", err)
	}
}

func TestController_Toggle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if err := h.ctrl.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle (start): %v", err)
	}
	h.sess.Emit(live.OpenEvent{})
	h.waitState(t, StateActive)

	if err := h.ctrl.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle (stop): %v", err)
	}
	if got := h.ctrl.Snapshot().State; got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}

	// A terminal attempt can be replaced by a fresh one.
	h.provider.Session = livemock.NewSession()
	h.platform.Output = audiomock.NewOutputDevice(audio.PlaybackFormat)
	h.platform.Input = audiomock.NewInputDevice(audio.CaptureFormat)
	first := h.ctrl.Snapshot().SessionID
	if err := h.ctrl.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle (restart): %v", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.State != StateConnecting {
		t.Errorf("state = %s, want connecting", snap.State)
	}
	if snap.SessionID == first {
		t.Error("restart reused the session id")
	}
}

func TestController_CleanupDuringConnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	entered := make(chan struct{})
	h.provider.ConnectHook = func(ctx context.Context) {
		close(entered)
		<-ctx.Done()
	}

	errc := make(chan error, 1)
	go func() { errc <- h.ctrl.Start(context.Background()) }()
	<-entered
	h.ctrl.Cleanup()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrAborted) {
			t.Errorf("Start = %v, want ErrAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cleanup")
	}
	snap := h.ctrl.Snapshot()
	if snap.State != StateClosed || snap.Error != "" {
		t.Errorf("snapshot = %+v, want closed without error", snap)
	}
}

func TestController_Close(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	if err := h.ctrl.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if err := h.ctrl.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
