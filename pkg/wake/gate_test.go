package wake_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/audio/mock"
	wakemock "github.com/tutorbotics/calliope/pkg/provider/wake/mock"
	"github.com/tutorbotics/calliope/pkg/wake"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func detectorFrames(n int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = make([]byte, 512*2)
	}
	return frames
}

func TestGate_WaitReturnsKeywordIndex(t *testing.T) {
	t.Parallel()

	det := &wakemock.Detector{DetectAt: 4, DetectIndex: 0}
	dev := &mock.InputDevice{Frames: detectorFrames(8)}
	g := wake.New(dev, det, wake.WithLogger(quietLogger()))

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer g.Close()

	idx, err := g.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if idx != 0 {
		t.Errorf("Wait() index = %d, want 0", idx)
	}
	if det.Frames != 5 {
		t.Errorf("detector processed %d frames, want 5", det.Frames)
	}
}

func TestGate_OpensStreamInDetectorFormat(t *testing.T) {
	t.Parallel()

	det := &wakemock.Detector{}
	dev := &mock.InputDevice{Frames: detectorFrames(1)}
	g := wake.New(dev, det)

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer g.Close()

	if len(dev.OpenInputCalls) != 1 {
		t.Fatalf("OpenInput calls: got %d, want 1", len(dev.OpenInputCalls))
	}
	call := dev.OpenInputCalls[0]
	if call.Format.SampleRate != det.SampleRate() || call.FrameSize != det.FrameLength() {
		t.Errorf("opened with %dHz/%d samples, want %dHz/%d",
			call.Format.SampleRate, call.FrameSize, det.SampleRate(), det.FrameLength())
	}
}

func TestGate_WaitBeforeStart(t *testing.T) {
	t.Parallel()

	g := wake.New(&mock.InputDevice{}, &wakemock.Detector{})
	_, err := g.Wait(context.Background())
	if !errors.Is(err, audio.ErrStreamNotStarted) {
		t.Fatalf("Wait() error = %v, want ErrStreamNotStarted", err)
	}
}

func TestGate_WaitSkipsReadErrors(t *testing.T) {
	t.Parallel()

	det := &wakemock.Detector{DetectAt: 1}
	dev := &mock.InputDevice{
		Frames:     detectorFrames(4),
		ReadErrors: map[int]error{0: errors.New("overrun")},
	}
	g := wake.New(dev, det, wake.WithLogger(quietLogger()))

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer g.Close()

	idx, err := g.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if idx != 0 {
		t.Errorf("Wait() index = %d, want 0", idx)
	}
}

func TestGate_CancelledWait(t *testing.T) {
	t.Parallel()

	// Detector that never matches; the device blocks after its script.
	det := &wakemock.Detector{DetectAt: 1 << 30}
	dev := &mock.InputDevice{Frames: detectorFrames(2)}
	g := wake.New(dev, det, wake.WithLogger(quietLogger()))

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestGate_CloseReleasesDeviceForHandOff(t *testing.T) {
	t.Parallel()

	det := &wakemock.Detector{DetectAt: 0}
	dev := &mock.InputDevice{Frames: detectorFrames(1)}
	g := wake.New(dev, det)

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}

	// The same device can now be opened by the next capture stage.
	if _, err := dev.OpenInput(context.Background(), audio.Format{SampleRate: 16000, Channels: 1}, 1024); err != nil {
		t.Fatalf("device re-open after hand-off failed: %v", err)
	}
}
