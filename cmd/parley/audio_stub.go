//go:build !portaudio

package main

import (
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/audio"
)

// registerAudio keeps the "portaudio" name resolvable in builds without the
// portaudio tag; voice attempts then report an unsupported environment.
func registerAudio(reg *config.Registry) {
	reg.RegisterAudio("portaudio", func(config.ProviderEntry) (audio.Platform, error) {
		return unsupportedPlatform{reason: "built without the portaudio tag"}, nil
	})
}
