// Package voice runs continuous voice conversations over a live session.
//
// A [Controller] owns the lifecycle of one voice attempt at a time:
//
//	Idle --Start--> Connecting --open--> Active --(close | error | Cleanup)--> Closed/Errored
//
// Start acquires the output device, the input device, and the microphone (in
// that order), then opens the live session. Once the server acknowledges the
// session, microphone frames are streamed to it by a capture pipeline and
// server events are routed to a playback scheduler and a transcript. Every
// acquired resource is released exactly once by cleanup, which is idempotent
// and safe to call from any state.
package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/capture"
	"github.com/MrWong99/parley/pkg/provider/live"
)

var (
	// ErrBusy is returned by [Controller.Start] while an attempt is
	// connecting or active.
	ErrBusy = errors.New("voice: session already running")

	// ErrClosed is returned after [Controller.Close].
	ErrClosed = errors.New("voice: controller closed")

	// ErrAborted is returned by [Controller.Start] when the attempt was
	// cleaned up before it finished connecting.
	ErrAborted = errors.New("voice: start aborted")
)

// Option configures a [Controller].
type Option func(*Controller)

// WithFrameSize sets the number of microphone samples per streamed frame.
func WithFrameSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithMessages overrides the user-facing error messages. Empty fields keep
// their defaults.
func WithMessages(m Messages) Option {
	return func(c *Controller) {
		c.messages = m.withDefaults()
	}
}

// WithObserver registers fn to receive a [Snapshot] after every state or
// transcript change. Calls are serialised. fn must not block and must not
// call [Controller.Close].
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Controller starts and stops voice sessions. All methods are safe for
// concurrent use.
type Controller struct {
	provider live.Provider
	platform audio.Platform
	cfg      live.SessionConfig

	frameSize int
	messages  Messages
	observer  func(Snapshot)
	metrics   *observe.Metrics

	mu     sync.Mutex
	cur    *session
	closed bool

	notifyMu sync.Mutex
}

// New creates a Controller that opens sessions on provider with cfg and
// takes audio devices from platform.
func New(provider live.Provider, platform audio.Platform, cfg live.SessionConfig, opts ...Option) *Controller {
	c := &Controller{
		provider:  provider,
		platform:  platform,
		cfg:       cfg,
		frameSize: capture.DefaultFrameSize,
		messages:  DefaultMessages(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start begins a new attempt. It returns once the live session has been
// opened; the attempt becomes active when the server acknowledges it.
//
// Any failure is recorded as the attempt's error message, all acquired
// resources are released, and the wrapped cause is returned for logging.
// Start returns [ErrBusy] while another attempt is connecting or active.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cur != nil {
		switch c.cur.State() {
		case StateConnecting, StateActive:
			c.mu.Unlock()
			return ErrBusy
		}
	}
	s := newSession(c)
	c.cur = s
	c.mu.Unlock()

	return s.start(ctx)
}

// Toggle cleans up an active attempt, or starts a new one otherwise.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.Snapshot().State == StateActive {
		c.Cleanup()
		return nil
	}
	return c.Start(ctx)
}

// Cleanup tears down the current attempt. It is idempotent, safe from any
// state, and never fails.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s != nil {
		s.teardown("")
	}
}

// Close cleans up the current attempt, waits for its event loop to exit,
// and makes the Controller unusable.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.cur
	c.mu.Unlock()

	if s != nil {
		s.teardown("")
		s.wait()
	}
	return nil
}

// Reconfigure replaces the session settings, frame size, and messages used
// by later attempts. A running attempt keeps the settings it started with.
// A non-positive frameSize keeps the current one.
func (c *Controller) Reconfigure(cfg live.SessionConfig, frameSize int, m Messages) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	if frameSize > 0 {
		c.frameSize = frameSize
	}
	c.messages = m.withDefaults()
}

// Snapshot returns the state of the current attempt. Before the first
// attempt the state is [StateIdle].
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil {
		return Snapshot{State: StateIdle}
	}
	return s.snapshot()
}

// notify delivers the attempt's current snapshot to the observer.
func (c *Controller) notify(s *session) {
	if c.observer == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.observer(s.snapshot())
}

// classify maps a start failure to its user-facing message and metrics
// outcome. Audio failures other than a missing facility are reported as a
// permission problem, since that is what the user can act on.
func classify(m Messages, err error, connecting bool) (msg, outcome string) {
	switch {
	case errors.Is(err, audio.ErrUnsupported):
		return m.Unsupported, observe.OutcomeUnsupported
	case connecting:
		return m.ConnectionFailed, observe.OutcomeFailed
	default:
		return m.PermissionDenied, observe.OutcomeDenied
	}
}
