package resilience

import (
	"context"

	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Recognize transcribes the clip using the first healthy provider. If the
// primary fails, subsequent fallbacks are tried with the same clip.
//
// [stt.ErrNoSpeech] counts as a failure here, so genuinely silent clips also
// advance the breaker's failure counter. Tune MaxFailures accordingly.
func (f *STTFallback) Recognize(ctx context.Context, clip *audio.Clip) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Recognize(ctx, clip)
	})
}
