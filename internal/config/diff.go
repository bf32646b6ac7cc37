package config

// Diff describes what changed between two configs. Only fields that can be
// applied without restarting the audio pipeline are tracked; provider and
// audio-capture changes require a restart and are ignored here.
type DiffResult struct {
	// LogLevelChanged is set when server.log_level changed; NewLogLevel
	// carries the new value.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is set when the tutor's synthesis voice changed. The
	// next synthesized sentence picks up the new profile.
	VoiceChanged bool

	// SessionChanged is set when session timing or prompt settings changed.
	// Applied when the current session ends.
	SessionChanged bool

	// PlaybackChanged is set when barge-in thresholds changed. Applied on
	// the next playback.
	PlaybackChanged bool
}

// Any reports whether the diff carries at least one change.
func (d DiffResult) Any() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.SessionChanged || d.PlaybackChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) DiffResult {
	d := DiffResult{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.Voice != new.Session.Voice {
		d.VoiceChanged = true
	}

	if old.Session.InactivityTimeout != new.Session.InactivityTimeout ||
		old.Session.MinSentenceLength != new.Session.MinSentenceLength ||
		old.Session.MaxQueuedSentences != new.Session.MaxQueuedSentences ||
		old.Session.SystemPrompt != new.Session.SystemPrompt ||
		old.Session.LearnerID != new.Session.LearnerID {
		d.SessionChanged = true
	}

	if old.Playback != new.Playback {
		d.PlaybackChanged = true
	}

	return d
}
