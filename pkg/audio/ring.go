package audio

// FrameRing is a fixed-capacity circular buffer of the most recent frames.
// While the segmenter is idle it is overwritten continuously; at speech onset
// its contents seed the new utterance so the lead-in before the detected
// trigger is not lost.
//
// FrameRing is not safe for concurrent use. The segmenter owns it exclusively.
type FrameRing struct {
	frames []Frame
	head   int
	count  int
}

// NewFrameRing creates a ring holding at most capacity frames. A capacity of
// zero or less yields a ring that stores nothing.
func NewFrameRing(capacity int) *FrameRing {
	if capacity < 0 {
		capacity = 0
	}
	return &FrameRing{frames: make([]Frame, capacity)}
}

// Push appends f, evicting the oldest frame when the ring is full.
func (r *FrameRing) Push(f Frame) {
	if len(r.frames) == 0 {
		return
	}
	idx := (r.head + r.count) % len(r.frames)
	r.frames[idx] = f
	if r.count < len(r.frames) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.frames)
	}
}

// Frames returns the buffered frames in chronological order, oldest first.
// The returned slice is a copy; mutating it does not affect the ring.
func (r *FrameRing) Frames() []Frame {
	out := make([]Frame, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.frames[(r.head+i)%len(r.frames)]
	}
	return out
}

// Len returns the number of frames currently buffered.
func (r *FrameRing) Len() int { return r.count }

// Cap returns the maximum number of frames the ring can hold.
func (r *FrameRing) Cap() int { return len(r.frames) }

// Reset discards all buffered frames.
func (r *FrameRing) Reset() {
	r.head = 0
	r.count = 0
}
