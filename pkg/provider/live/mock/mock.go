// Package mock provides test doubles for the live.Provider and
// live.SessionHandle interfaces.
//
// Typical usage:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	h, _ := p.Connect(ctx, live.SessionConfig{})
//	sess.Emit(live.OpenEvent{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// Compile-time assertions.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*Session)(nil)

// Provider is a mock implementation of [live.Provider].
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. A fresh session is created when nil.
	Session *Session

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// ConnectHook, if set, runs at the start of Connect. Tests use it to
	// block or to observe the call.
	ConnectHook func(ctx context.Context)

	// CapabilitiesResult is returned by Capabilities.
	CapabilitiesResult live.Capabilities

	// ConnectCalls records the config of every Connect call.
	ConnectCalls []live.SessionConfig
}

// Connect implements [live.Provider].
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	hook := p.ConnectHook
	p.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Capabilities implements [live.Provider].
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CapabilitiesResult
}

// Calls returns a copy of the recorded Connect configs.
func (p *Provider) Calls() []live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]live.SessionConfig, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Session is a mock [live.SessionHandle]. Events are injected with
// [Session.Emit]; sent frames are recorded.
type Session struct {
	mu     sync.Mutex
	events chan live.Event
	closed bool
	sent   []audio.EncodedFrame
	sentCh chan audio.EncodedFrame

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewSession returns a session with room for 64 pending events.
func NewSession() *Session {
	return &Session{
		events: make(chan live.Event, 64),
		sentCh: make(chan audio.EncodedFrame, 256),
	}
}

// Emit queues ev for the consumer. It reports false if the session is
// closed. It panics if the event buffer is full.
func (s *Session) Emit(ev live.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
	default:
		panic("mock: live event buffer full")
	}
	return true
}

// EndRemotely emits ev and then closes the events channel, the way a real
// session ends when the server hangs up.
func (s *Session) EndRemotely(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
	s.closed = true
	close(s.events)
}

// SendRealtimeInput implements [live.SessionHandle].
func (s *Session) SendRealtimeInput(frame audio.EncodedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, frame)
	select {
	case s.sentCh <- frame:
	default:
	}
	return nil
}

// Sent returns a copy of the frames sent so far.
func (s *Session) Sent() []audio.EncodedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.EncodedFrame, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentFrames returns a channel that receives every sent frame.
func (s *Session) SentFrames() <-chan audio.EncodedFrame { return s.sentCh }

// Events implements [live.SessionHandle].
func (s *Session) Events() <-chan live.Event { return s.events }

// Close implements [live.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// Closes returns how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}
