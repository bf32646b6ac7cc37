// Package mock provides a test double for the tts.Provider interface.
//
// Each Synthesize call returns a silent clip whose duration is proportional
// to the text length, so playback-pipeline tests get realistic clip sizes
// without a live backend. All calls are recorded for assertions.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/provider/tts"
)

// SynthesizeCall records a single Synthesize invocation.
type SynthesizeCall struct {
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of [tts.Provider]. It is safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	// Clip, when non-nil, is returned by every Synthesize call instead of
	// the generated silence.
	Clip *audio.Clip

	// Err, when non-nil, is returned by every Synthesize call.
	Err error

	// Delay is slept in each Synthesize call to simulate network latency.
	Delay time.Duration

	// SynthesizeCalls records every Synthesize invocation in order.
	SynthesizeCalls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*audio.Clip, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	clip := p.Clip
	err := p.Err
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if clip != nil {
		return clip, nil
	}
	// 50ms of silence per character, mono 16kHz.
	samples := 800 * len(text)
	if samples == 0 {
		samples = 800
	}
	return &audio.Clip{
		PCM:        make([]byte, samples*2),
		SampleRate: 16000,
		Channels:   1,
	}, nil
}

// Texts returns the texts passed to Synthesize, in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}
