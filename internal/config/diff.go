package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked individually; everything
// else is summarised in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ChatChanged and SearchChanged report new texts or limits for the
	// text modes.
	ChatChanged   bool
	SearchChanged bool

	// VoiceChanged reports a new voice section. It takes effect with the
	// next voice session.
	VoiceChanged bool

	// RestartRequired lists the sections that changed but are only read
	// at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ChatChanged && !d.SearchChanged && !d.VoiceChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ChatChanged = old.Chat != new.Chat
	d.SearchChanged = old.Search != new.Search
	d.VoiceChanged = !voiceEqual(old.Voice, new.Voice)

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	oldEntries, newEntries := old.Providers.entries(), new.Providers.entries()
	for i := range oldEntries {
		if !entryEqual(*oldEntries[i].entry, *newEntries[i].entry) {
			d.RestartRequired = append(d.RestartRequired, "providers."+oldEntries[i].key)
		}
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	return d
}

func voiceEqual(a, b VoiceConfig) bool {
	return a.Voice == b.Voice &&
		a.Instructions == b.Instructions &&
		a.FrameSize == b.FrameSize &&
		boolEqual(a.InputTranscription, b.InputTranscription) &&
		boolEqual(a.OutputTranscription, b.OutputTranscription) &&
		a.Messages == b.Messages
}

func boolEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// entryEqual ignores Options; they are opaque to the config package.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
