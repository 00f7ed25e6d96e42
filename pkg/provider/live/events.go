package live

// Event is a server event on a live session. The concrete types are
// [OpenEvent], [AudioEvent], [InterruptEvent], [TranscriptEvent],
// [TurnCompleteEvent], [ErrorEvent], and [CloseEvent].
type Event interface {
	isEvent()
}

// OpenEvent signals that the session is ready for realtime input.
type OpenEvent struct{}

// AudioEvent carries one chunk of synthesized speech.
type AudioEvent struct {
	// MIMEType is e.g. "audio/pcm;rate=24000".
	MIMEType string

	// Data is base64-encoded 16-bit little-endian PCM.
	Data string
}

// InterruptEvent signals that the user started speaking over the model and
// all pending model audio should be discarded.
type InterruptEvent struct{}

// Direction identifies whose speech a transcript belongs to.
type Direction int

const (
	// DirectionInput is the user's speech.
	DirectionInput Direction = iota

	// DirectionOutput is the model's speech.
	DirectionOutput
)

// String returns the human-readable name of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "INPUT"
	case DirectionOutput:
		return "OUTPUT"
	default:
		return "UNKNOWN"
	}
}

// TranscriptEvent carries an incremental transcription delta.
type TranscriptEvent struct {
	Direction Direction
	Text      string
}

// TurnCompleteEvent signals the end of a model turn.
type TurnCompleteEvent struct{}

// ErrorEvent reports a session failure. The session is unusable afterwards.
type ErrorEvent struct {
	Err error
}

// CloseEvent reports that the remote end closed the session normally.
type CloseEvent struct {
	Code   int
	Reason string
}

func (OpenEvent) isEvent()         {}
func (AudioEvent) isEvent()        {}
func (InterruptEvent) isEvent()    {}
func (TranscriptEvent) isEvent()   {}
func (TurnCompleteEvent) isEvent() {}
func (ErrorEvent) isEvent()        {}
func (CloseEvent) isEvent()        {}

// ServerContent is the provider-neutral content of one server message.
type ServerContent struct {
	// Audio holds every inline audio part of the model turn, in order.
	Audio []AudioEvent

	// Interrupted is set when the user barged in.
	Interrupted bool

	// InputTranscription is a delta of the user's speech; empty if absent.
	InputTranscription string

	// OutputTranscription is a delta of the model's speech; empty if absent.
	OutputTranscription string

	// TurnComplete is set at the end of a model turn.
	TurnComplete bool
}

// Events decomposes the message into events in handling priority: audio
// first, then the interruption, then one transcript delta (the output
// transcription wins over the input transcription), then turn completion.
func (c ServerContent) Events() []Event {
	var evs []Event
	for _, a := range c.Audio {
		evs = append(evs, a)
	}
	if c.Interrupted {
		evs = append(evs, InterruptEvent{})
	}
	switch {
	case c.OutputTranscription != "":
		evs = append(evs, TranscriptEvent{Direction: DirectionOutput, Text: c.OutputTranscription})
	case c.InputTranscription != "":
		evs = append(evs, TranscriptEvent{Direction: DirectionInput, Text: c.InputTranscription})
	}
	if c.TurnComplete {
		evs = append(evs, TurnCompleteEvent{})
	}
	return evs
}
