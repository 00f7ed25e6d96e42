//go:build portaudio

package main

import (
	"log/slog"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/portaudio"
)

// registerAudio registers the PortAudio platform. A host without usable
// audio keeps the text modes running and fails voice attempts as
// unsupported.
func registerAudio(reg *config.Registry) {
	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Platform, error) {
		var opts []portaudio.Option
		if n, ok := optInt(entry.Options, "frames_per_buffer"); ok {
			opts = append(opts, portaudio.WithFramesPerBuffer(n))
		}
		p, err := portaudio.Open(opts...)
		if err != nil {
			slog.Warn("audio unavailable", "err", err)
			return unsupportedPlatform{reason: err.Error()}, nil
		}
		return p, nil
	})
}
