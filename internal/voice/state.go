package voice

// State is the lifecycle state of one voice session attempt.
type State int

const (
	// StateIdle means no attempt has been made yet.
	StateIdle State = iota

	// StateConnecting covers device acquisition and the live handshake.
	StateConnecting

	// StateActive means the live session is open and audio is flowing.
	StateActive

	// StateClosed is terminal: the attempt ended without error.
	StateClosed

	// StateErrored is terminal: the attempt failed or the session reported
	// an error.
	StateErrored
)

// String returns a lower-case name for s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Snapshot is a read-only view of the current attempt for the UI.
type Snapshot struct {
	State     State
	SessionID string

	// UserText and AIText are the running transcripts of the attempt.
	UserText string
	AIText   string

	// Error is the single user-facing error message of an errored attempt.
	// When set, the UI shows it instead of the transcripts.
	Error string
}

// Messages are the user-facing texts recorded when an attempt fails.
type Messages struct {
	// PermissionDenied is shown when the microphone or an audio device
	// cannot be acquired.
	PermissionDenied string

	// ConnectionFailed is shown when the live session cannot be opened or
	// reports an error.
	ConnectionFailed string

	// Unsupported is shown when the platform has no audio facilities.
	Unsupported string
}

// DefaultMessages returns the English defaults.
func DefaultMessages() Messages {
	return Messages{
		PermissionDenied: "Microphone access denied.",
		ConnectionFailed: "Connection error.",
		Unsupported:      "Audio is not supported on this device.",
	}
}

// withDefaults fills empty fields from [DefaultMessages].
func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	if m.PermissionDenied == "" {
		m.PermissionDenied = d.PermissionDenied
	}
	if m.ConnectionFailed == "" {
		m.ConnectionFailed = d.ConnectionFailed
	}
	if m.Unsupported == "" {
		m.Unsupported = d.Unsupported
	}
	return m
}
