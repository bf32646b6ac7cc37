// Package wake defines the provider interface for wake-word detection.
//
// Wake-word engines are per-frame keyword classifiers: audio is fed one
// fixed-size frame at a time and the engine answers with the index of the
// keyword it matched, or -1. The classifier dictates the frame length and
// sample rate it was trained on; callers must capture in exactly that
// format.
package wake

// NoKeyword is the index returned by [Detector.Process] when the frame
// completes no keyword.
const NoKeyword = -1

// Detector is a black-box per-frame keyword classifier.
//
// Implementations are stateful across frames (keywords span many frames) and
// are not safe for concurrent use.
type Detector interface {
	// Process classifies one frame of mono 16-bit PCM. The frame must hold
	// exactly FrameLength samples. Returns the matched keyword index, or
	// [NoKeyword] when the frame completes no keyword.
	Process(pcm []byte) (int, error)

	// FrameLength returns the required frame size in samples.
	FrameLength() int

	// SampleRate returns the required capture rate in Hz.
	SampleRate() int

	// Keywords returns the keyword labels, indexed by the values Process
	// returns.
	Keywords() []string

	// Close releases the engine's resources.
	Close() error
}
