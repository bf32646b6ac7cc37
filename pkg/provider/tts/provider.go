// Package tts defines the provider interface for speech synthesis backends.
//
// The playback pipeline synthesizes one sentence unit at a time so that
// early sentences are speaking while later ones are still being generated.
// The abstraction is therefore a single blocking call per unit rather than
// a long-lived stream.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/tutorbotics/calliope/pkg/audio"
)

// VoiceProfile selects and shapes a synthesis voice.
type VoiceProfile struct {
	// Name is the backend voice identifier, e.g. "en-US-DavisNeural".
	Name string

	// Language is the BCP-47 tag of the spoken language. Empty defaults to
	// the provider's configured language.
	Language string

	// Rate is a speaking-rate multiplier; 1.0 is the voice's natural pace.
	// Zero means unchanged.
	Rate float64

	// Pitch is a relative pitch adjustment such as "+10%". Empty means
	// unchanged.
	Pitch string

	// Style and StyleDegree select an expressive speaking style on backends
	// that support one, e.g. "cheerful" at degree 1.5.
	Style       string
	StyleDegree float64
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize renders one text unit into a playable PCM clip using the
	// given voice. The call blocks up to the deadline carried by ctx.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*audio.Clip, error)
}
