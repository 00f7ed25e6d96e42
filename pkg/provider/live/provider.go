// Package live defines the Provider interface for bidirectional live voice
// sessions.
//
// A live provider wraps a real-time voice model that accepts a continuous
// stream of microphone audio and answers with streamed synthesized speech,
// interruption signals, and incremental transcriptions, all over one
// long-lived session. Gemini Live is the reference backend.
//
// Server traffic is surfaced as a single ordered stream of [Event] values so
// that consumers can handle every kind of message with one exhaustive type
// switch in arrival order.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrSessionClosed is returned by [SessionHandle.SendRealtimeInput] after the
// session has been closed.
var ErrSessionClosed = errors.New("live: session closed")

// SessionConfig is the configuration sent when a session is opened. The
// response modality is always audio.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Voice is the name of a prebuilt voice, e.g. "Kore". Empty selects the
	// provider default.
	Voice string

	// Instructions is the system instruction for the model.
	Instructions string

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the model's speech.
	OutputTranscription bool
}

// Capabilities describes static properties of a live provider.
type Capabilities struct {
	// MaxSessionDuration is the provider-imposed upper bound on session
	// lifetime. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// InputFormat is the audio format the provider expects from the client.
	InputFormat audio.Format

	// OutputFormat is the audio format of synthesized speech.
	OutputFormat audio.Format

	// Voices lists the prebuilt voice names.
	Voices []string
}

// SessionHandle is an open live session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendRealtimeInput streams one encoded microphone frame to the model.
	// Frames are delivered in call order. Returns [ErrSessionClosed] once the
	// session is closed.
	SendRealtimeInput(frame audio.EncodedFrame) error

	// Events returns the ordered stream of server events. The first event of a
	// healthy session is [OpenEvent]. The channel is closed when the session
	// ends; a session that ends on its own emits [CloseEvent] or [ErrorEvent]
	// first. Consumers must drain it promptly.
	Events() <-chan Event

	// Close terminates the session. No further events are emitted after Close
	// returns. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect opens a session. The returned handle is usable immediately, but
	// audio should only be streamed after [OpenEvent] has been received.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
