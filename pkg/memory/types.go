package memory

import "time"

// Speaker roles for a transcript turn.
const (
	RoleStudent = "student"
	RoleTutor   = "tutor"
)

// Turn is one exchange entry written to the session transcript. Student
// turns carry the recognized utterance, tutor turns the spoken reply.
type Turn struct {
	// Role is [RoleStudent] or [RoleTutor].
	Role string

	// Text is the transcript text: the recognizer's display text for
	// student turns, the synthesized reply for tutor turns.
	Text string

	// RawText is the original uncorrected recognizer output. Preserved for
	// debugging; empty for tutor turns.
	RawText string

	// Confidence is the recognizer's confidence for student turns (0.0-1.0).
	// Zero for tutor turns.
	Confidence float64

	// Timestamp is when this turn was recorded.
	Timestamp time.Time

	// Duration is the length of the utterance or playback.
	Duration time.Duration
}
