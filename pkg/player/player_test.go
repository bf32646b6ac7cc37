package player_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/audio/mock"
	"github.com/tutorbotics/calliope/pkg/player"
)

const monitorFrame = 2048

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// monitorPCM builds one monitor frame at the given amplitude. Amplitude 3277
// has energy ~0.1, above the default effective threshold of 0.03; 0 is
// silence.
func monitorPCM(amplitude int16) []byte {
	buf := make([]byte, monitorFrame*2)
	for i := 0; i < monitorFrame; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

// testClip builds a mono 16kHz clip spanning the given number of 1024-sample
// output chunks.
func testClip(chunks int) *audio.Clip {
	return &audio.Clip{
		PCM:        make([]byte, chunks*1024*2),
		SampleRate: 16000,
		Channels:   1,
	}
}

// immediateConfig arms the interrupt monitor with no grace period so tests
// do not depend on wall-clock timing.
func immediateConfig() player.Config {
	return player.Config{
		InterruptThreshold: 0.02,
		FeedbackMultiplier: 1.5,
		ConsecutiveFrames:  3,
		ChunkSize:          1024,
	}
}

func TestPlay_EmptyClip(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	mon := &mock.InputDevice{}
	p := player.New(out, mon, immediateConfig(), player.WithLogger(quietLogger()))

	res, err := p.Play(context.Background(), &audio.Clip{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if res.Interrupted || res.Played != 0 {
		t.Errorf("Play() = %+v, want zero result", res)
	}
	if len(out.OpenOutputCalls) != 0 {
		t.Error("output device opened for empty clip")
	}
	if len(mon.OpenInputCalls) != 0 {
		t.Error("monitor opened for empty clip")
	}
}

func TestPlay_InterruptAfterThreeConsecutiveLoudFrames(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{WriteDelay: 5 * time.Millisecond}
	mon := &mock.InputDevice{
		Frames: [][]byte{monitorPCM(3277), monitorPCM(3277), monitorPCM(3277)},
	}
	p := player.New(out, mon, immediateConfig(), player.WithLogger(quietLogger()))

	clip := testClip(100)
	res, err := p.Play(context.Background(), clip)
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !res.Interrupted {
		t.Fatal("expected playback to be interrupted")
	}
	if res.Played >= clip.Duration() {
		t.Errorf("Played = %v, want less than full %v", res.Played, clip.Duration())
	}
	if got := len(out.BytesWritten()); got >= len(clip.PCM) {
		t.Errorf("wrote %d of %d bytes, expected early stop", got, len(clip.PCM))
	}
}

func TestPlay_TwoLoudFramesThenQuietDoesNotInterrupt(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	mon := &mock.InputDevice{
		// Two above-threshold frames followed by silence reset the counter;
		// the stream then blocks like a silent microphone until closed.
		Frames: [][]byte{monitorPCM(3277), monitorPCM(3277), monitorPCM(0)},
	}
	p := player.New(out, mon, immediateConfig(), player.WithLogger(quietLogger()))

	clip := testClip(10)
	res, err := p.Play(context.Background(), clip)
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if res.Interrupted {
		t.Fatal("interrupt triggered without three consecutive loud frames")
	}
	if got := len(out.BytesWritten()); got != len(clip.PCM) {
		t.Errorf("wrote %d of %d bytes, want full clip", got, len(clip.PCM))
	}
	if res.Played != clip.Duration() {
		t.Errorf("Played = %v, want %v", res.Played, clip.Duration())
	}
}

func TestPlay_GracePeriodSuppressesEarlyInterrupt(t *testing.T) {
	t.Parallel()

	cfg := immediateConfig()
	cfg.MinPlaybackTime = 30 // longer than any test run
	out := &mock.OutputDevice{}
	mon := &mock.InputDevice{Frames: [][]byte{
		monitorPCM(3277), monitorPCM(3277), monitorPCM(3277),
		monitorPCM(3277), monitorPCM(3277), monitorPCM(3277),
	}}
	p := player.New(out, mon, cfg, player.WithLogger(quietLogger()))

	res, err := p.Play(context.Background(), testClip(5))
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if res.Interrupted {
		t.Fatal("interrupt triggered during grace period")
	}
}

func TestPlay_MonitorUnavailableDegradesGracefully(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	mon := &mock.InputDevice{OpenError: audio.ErrDeviceUnavailable}
	p := player.New(out, mon, immediateConfig(), player.WithLogger(quietLogger()))

	clip := testClip(5)
	res, err := p.Play(context.Background(), clip)
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if res.Interrupted {
		t.Error("uninterruptible playback reported an interrupt")
	}
	if got := len(out.BytesWritten()); got != len(clip.PCM) {
		t.Errorf("wrote %d of %d bytes, want full clip", got, len(clip.PCM))
	}
}

func TestPlay_MonitorGivesUpAfterPersistentReadFailures(t *testing.T) {
	t.Parallel()

	// Five consecutive failed reads mean the monitor pipe is dead. The loud
	// frames scripted after them must never be classified: a monitor that
	// kept spinning past the failures would confirm a phantom interrupt.
	readErr := errors.New("broken pipe")
	readErrs := map[int]error{}
	frames := make([][]byte, 0, 9)
	for i := 0; i < 5; i++ {
		readErrs[i] = readErr
		frames = append(frames, monitorPCM(0)) // consumed by the injected error
	}
	for i := 0; i < 4; i++ {
		frames = append(frames, monitorPCM(3277))
	}

	out := &mock.OutputDevice{WriteDelay: 2 * time.Millisecond}
	mon := &mock.InputDevice{Frames: frames, ReadErrors: readErrs}
	p := player.New(out, mon, immediateConfig(), player.WithLogger(quietLogger()))

	clip := testClip(20)
	res, err := p.Play(context.Background(), clip)
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if res.Interrupted {
		t.Fatal("interrupt confirmed by a failing monitor stream")
	}
	if got := len(out.BytesWritten()); got != len(clip.PCM) {
		t.Errorf("wrote %d of %d bytes, want full clip", got, len(clip.PCM))
	}
}

func TestPlay_NilMonitorDevice(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{}
	p := player.New(out, nil, immediateConfig(), player.WithLogger(quietLogger()))

	res, err := p.Play(context.Background(), testClip(2))
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if res.Interrupted {
		t.Error("interrupt reported with no monitor device")
	}
}

func TestPlay_OutputUnavailable(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{OpenError: errors.New("device busy")}
	p := player.New(out, &mock.InputDevice{}, immediateConfig(), player.WithLogger(quietLogger()))

	_, err := p.Play(context.Background(), testClip(2))
	if !errors.Is(err, player.ErrOutputUnavailable) {
		t.Fatalf("Play() error = %v, want ErrOutputUnavailable", err)
	}
}

func TestPlay_ContextCancellation(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{WriteDelay: 5 * time.Millisecond}
	p := player.New(out, nil, immediateConfig(), player.WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	clip := testClip(200)
	res, err := p.Play(ctx, clip)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Play() error = %v, want context.Canceled", err)
	}
	if res.Played >= clip.Duration() {
		t.Errorf("Played = %v, want partial", res.Played)
	}
}

func TestPlay_WriteErrorsAreSkipped(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{WriteError: errors.New("underrun")}
	p := player.New(out, nil, immediateConfig(), player.WithLogger(quietLogger()))

	clip := testClip(4)
	res, err := p.Play(context.Background(), clip)
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	// Every chunk failed but the loop still advanced through the clip.
	if res.Played != clip.Duration() {
		t.Errorf("Played = %v, want %v", res.Played, clip.Duration())
	}
}

func TestPlay_FallbackFormatConversion(t *testing.T) {
	t.Parallel()

	// Device only accepts 16kHz; the clip arrives at 24kHz.
	out := &mock.OutputDevice{SupportedRates: []int{16000}}
	cfg := immediateConfig()
	cfg.FallbackSampleRate = 16000
	p := player.New(out, nil, cfg, player.WithLogger(quietLogger()))

	clip := &audio.Clip{
		PCM:        make([]byte, 2400*2), // 100ms at 24kHz
		SampleRate: 24000,
		Channels:   1,
	}
	res, err := p.Play(context.Background(), clip)
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	if got := len(out.OpenOutputCalls); got != 2 {
		t.Fatalf("OpenOutput called %d times, want 2 (native, then fallback)", got)
	}
	if f := out.OpenOutputCalls[1]; f.SampleRate != 16000 || f.Channels != 1 {
		t.Errorf("fallback format = %+v, want 16000/1", f)
	}
	// 100ms of audio regardless of rate.
	if got, want := len(out.BytesWritten()), 1600*2; got != want {
		t.Errorf("wrote %d bytes, want %d after resampling", got, want)
	}
	if res.Played != 100*time.Millisecond {
		t.Errorf("Played = %v, want 100ms", res.Played)
	}
}

func TestPlay_FallbackDisabledFailsOnRejectedFormat(t *testing.T) {
	t.Parallel()

	out := &mock.OutputDevice{SupportedRates: []int{16000}}
	p := player.New(out, nil, immediateConfig(), player.WithLogger(quietLogger()))

	clip := &audio.Clip{PCM: make([]byte, 2400*2), SampleRate: 24000, Channels: 1}
	if _, err := p.Play(context.Background(), clip); !errors.Is(err, player.ErrOutputUnavailable) {
		t.Fatalf("Play() error = %v, want ErrOutputUnavailable", err)
	}
}
