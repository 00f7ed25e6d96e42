package voice

import (
	"testing"

	"github.com/MrWong99/parley/pkg/provider/live"
)

func TestTranscript_AppendInArrivalOrder(t *testing.T) {
	t.Parallel()

	var tr Transcript
	for _, r := range []string{"П", "р", "и", "в", "е"} {
		tr.Append(live.DirectionOutput, r)
	}
	tr.Append(live.DirectionInput, "hel")
	tr.Append(live.DirectionInput, "lo")
	tr.Append(live.DirectionInput, "lo")

	if got := tr.AI(); got != "Приве" {
		t.Errorf("AI() = %q, want %q", got, "Приве")
	}
	if got := tr.User(); got != "hellolo" {
		t.Errorf("User() = %q, want %q", got, "hellolo")
	}
}

func TestTranscript_UnknownDirectionDropped(t *testing.T) {
	t.Parallel()

	var tr Transcript
	tr.Append(live.Direction(42), "noise")
	if tr.AI() != "" || tr.User() != "" {
		t.Errorf("unknown direction was recorded: user=%q ai=%q", tr.User(), tr.AI())
	}
}

func TestTranscript_Reset(t *testing.T) {
	t.Parallel()

	var tr Transcript
	tr.Append(live.DirectionInput, "a")
	tr.Append(live.DirectionOutput, "b")
	tr.Reset()
	if tr.AI() != "" || tr.User() != "" {
		t.Error("Reset left text behind")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    State
		want     string
		terminal bool
	}{
		{StateIdle, "idle", false},
		{StateConnecting, "connecting", false},
		{StateActive, "active", false},
		{StateClosed, "closed", true},
		{StateErrored, "errored", true},
		{State(99), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("State(%d).Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestMessages_WithDefaults(t *testing.T) {
	t.Parallel()

	m := Messages{ConnectionFailed: "offline"}.withDefaults()
	d := DefaultMessages()
	if m.ConnectionFailed != "offline" {
		t.Errorf("ConnectionFailed = %q, want override", m.ConnectionFailed)
	}
	if m.PermissionDenied != d.PermissionDenied || m.Unsupported != d.Unsupported {
		t.Errorf("defaults not applied: %+v", m)
	}
}
