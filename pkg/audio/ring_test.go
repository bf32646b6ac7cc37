package audio_test

import (
	"testing"

	"github.com/tutorbotics/calliope/pkg/audio"
)

func frameWithByte(b byte) audio.Frame {
	return audio.Frame{Data: []byte{b, 0}, SampleRate: 16000, Channels: 1}
}

func TestFrameRing_EvictsOldestFIFO(t *testing.T) {
	t.Parallel()
	r := audio.NewFrameRing(3)
	for b := byte(1); b <= 5; b++ {
		r.Push(frameWithByte(b))
	}
	got := r.Frames()
	if len(got) != 3 {
		t.Fatalf("Len: got %d, want 3", len(got))
	}
	// After 5 pushes into capacity 3, the ring holds frames 3, 4, 5 in order.
	for i, want := range []byte{3, 4, 5} {
		if got[i].Data[0] != want {
			t.Errorf("frame %d: got %d, want %d", i, got[i].Data[0], want)
		}
	}
}

func TestFrameRing_PartiallyFilled(t *testing.T) {
	t.Parallel()
	r := audio.NewFrameRing(8)
	r.Push(frameWithByte(1))
	r.Push(frameWithByte(2))
	if r.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", r.Len())
	}
	got := r.Frames()
	if got[0].Data[0] != 1 || got[1].Data[0] != 2 {
		t.Errorf("frames out of order: got %d, %d", got[0].Data[0], got[1].Data[0])
	}
}

func TestFrameRing_Reset(t *testing.T) {
	t.Parallel()
	r := audio.NewFrameRing(4)
	r.Push(frameWithByte(1))
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len after Reset: got %d, want 0", r.Len())
	}
	if got := r.Frames(); len(got) != 0 {
		t.Errorf("Frames after Reset: got %d frames, want 0", len(got))
	}
}

func TestFrameRing_ZeroCapacity(t *testing.T) {
	t.Parallel()
	r := audio.NewFrameRing(0)
	r.Push(frameWithByte(1))
	if r.Len() != 0 {
		t.Errorf("zero-capacity ring stored a frame")
	}
}
