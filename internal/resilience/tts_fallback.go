package resilience

import (
	"context"

	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders the sentence using the first healthy provider. The voice
// profile is passed through unchanged, so a fallback backend must either know
// the same voice name or ignore it.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*audio.Clip, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*audio.Clip, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
