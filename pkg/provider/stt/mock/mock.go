// Package mock provides a test double for the stt.Provider interface.
//
// Set Transcripts to script what successive Recognize calls return, or Err
// to make every call fail. All calls are recorded for assertions.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/provider/stt"
)

// Provider is a mock implementation of [stt.Provider]. It is safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	// Transcripts are returned by successive Recognize calls in order; the
	// last entry repeats once the script is exhausted.
	Transcripts []stt.Transcript

	// Err, when non-nil, is returned by every Recognize call.
	Err error

	// Delay is slept in each Recognize call to simulate network latency.
	Delay time.Duration

	// RecognizeCalls records the clips passed to Recognize.
	RecognizeCalls []*audio.Clip
}

var _ stt.Provider = (*Provider)(nil)

// Recognize implements [stt.Provider].
func (p *Provider) Recognize(ctx context.Context, clip *audio.Clip) (stt.Transcript, error) {
	p.mu.Lock()
	p.RecognizeCalls = append(p.RecognizeCalls, clip)
	call := len(p.RecognizeCalls) - 1
	transcripts := p.Transcripts
	err := p.Err
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	if len(transcripts) == 0 {
		return stt.Transcript{}, stt.ErrNoSpeech
	}
	if call >= len(transcripts) {
		call = len(transcripts) - 1
	}
	return transcripts[call], nil
}

// Calls returns how many Recognize calls were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.RecognizeCalls)
}
