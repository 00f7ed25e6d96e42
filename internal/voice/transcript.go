package voice

import (
	"strings"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// Transcript accumulates incremental transcription fragments for one
// attempt: what the user said and what the model said. Fragments are
// appended in arrival order without deduplication.
//
// Transcript is not safe for concurrent use; the owning session guards it.
type Transcript struct {
	user strings.Builder
	ai   strings.Builder
}

// Append adds text to the accumulator selected by dir. Fragments with an
// unknown direction are dropped.
func (t *Transcript) Append(dir live.Direction, text string) {
	switch dir {
	case live.DirectionInput:
		t.user.WriteString(text)
	case live.DirectionOutput:
		t.ai.WriteString(text)
	}
}

// User returns the running user utterance.
func (t *Transcript) User() string { return t.user.String() }

// AI returns the running model response.
func (t *Transcript) AI() string { return t.ai.String() }

// Reset empties both accumulators.
func (t *Transcript) Reset() {
	t.user.Reset()
	t.ai.Reset()
}
