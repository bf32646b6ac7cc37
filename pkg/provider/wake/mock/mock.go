// Package mock provides a scripted [wake.Detector] for unit tests.
package mock

import (
	"sync"

	"github.com/tutorbotics/calliope/pkg/provider/wake"
)

// Detector is a mock implementation of [wake.Detector]. It returns
// [wake.NoKeyword] for every frame until DetectAt is reached, then returns
// DetectIndex.
type Detector struct {
	mu sync.Mutex

	// DetectAt is the zero-based Process call number on which the detector
	// reports a match.
	DetectAt int

	// DetectIndex is the keyword index reported on the matching call.
	DetectIndex int

	// ProcessError, when non-nil, is returned by every Process call.
	ProcessError error

	// Frames counts Process invocations.
	Frames int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

var _ wake.Detector = (*Detector)(nil)

// Process implements [wake.Detector].
func (d *Detector) Process(_ []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ProcessError != nil {
		return wake.NoKeyword, d.ProcessError
	}
	call := d.Frames
	d.Frames++
	if call == d.DetectAt {
		return d.DetectIndex, nil
	}
	return wake.NoKeyword, nil
}

// FrameLength implements [wake.Detector]. Matches the Porcupine engine's
// 512-sample frames.
func (d *Detector) FrameLength() int { return 512 }

// SampleRate implements [wake.Detector].
func (d *Detector) SampleRate() int { return 16000 }

// Keywords implements [wake.Detector].
func (d *Detector) Keywords() []string { return []string{"hey tutor"} }

// Close implements [wake.Detector].
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCalls++
	return nil
}
