package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/voice"
)

// BreakerReporter is implemented by the resilience fallbacks.
type BreakerReporter interface {
	Status() []resilience.BreakerStatus
}

// BreakerCheck fails when every backend behind r has an open breaker. A
// half-open breaker counts as usable.
func BreakerCheck(name string, r BreakerReporter) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			status := r.Status()
			var open []string
			for _, s := range status {
				if s.State == resilience.StateOpen {
					open = append(open, s.Name)
				}
			}
			if len(status) > 0 && len(open) == len(status) {
				return fmt.Errorf("all backends unavailable (%s)", strings.Join(open, ", "))
			}
			return nil
		},
	}
}

// VoiceState is implemented by [voice.Controller].
type VoiceState interface {
	Snapshot() voice.Snapshot
}

// VoiceCheck fails while the last voice attempt ended with an error. A new
// attempt clears the failure.
func VoiceCheck(v VoiceState) Checker {
	return Checker{
		Name: "voice",
		Check: func(context.Context) error {
			snap := v.Snapshot()
			if snap.State == voice.StateErrored {
				if snap.Error == "" {
					return errors.New("last session failed")
				}
				return errors.New(snap.Error)
			}
			return nil
		},
	}
}
