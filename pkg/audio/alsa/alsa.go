// Package alsa implements the audio device interfaces on top of the ALSA
// command-line tools. Capture shells out to arecord and playback to aplay,
// both in raw S16_LE mode, which keeps the adapter free of cgo and works on
// any Linux box with alsa-utils installed (including Raspberry Pi class
// hardware).
package alsa

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
)

// Compile-time interface checks.
var (
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
)

// InputDevice captures PCM via arecord.
type InputDevice struct {
	// Device is the ALSA device name (e.g. "default", "plughw:1,0").
	// Empty means the ALSA default device.
	Device string
}

// OpenInput starts an arecord subprocess and returns a stream reading
// fixed-size frames from its stdout.
func (d *InputDevice) OpenInput(ctx context.Context, format audio.Format, frameSize int) (audio.InputStream, error) {
	args := []string{
		"-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(format.SampleRate),
		"-c", strconv.Itoa(format.Channels),
	}
	if d.Device != "" {
		args = append(args, "-D", d.Device)
	}

	cmd := exec.CommandContext(ctx, "arecord", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("alsa: %w: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("alsa: %w: arecord: %v", audio.ErrDeviceUnavailable, err)
	}

	return &inputStream{
		cmd:       cmd,
		stdout:    stdout,
		format:    format,
		frameSize: frameSize,
		started:   time.Now(),
	}, nil
}

type inputStream struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	format    audio.Format
	frameSize int
	started   time.Time

	mu     sync.Mutex
	closed bool
}

// ReadFrame blocks until one full frame is read from arecord's stdout.
func (s *inputStream) ReadFrame() (audio.Frame, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return audio.Frame{}, fmt.Errorf("alsa: %w", audio.ErrStreamNotStarted)
	}

	buf := make([]byte, s.frameSize*2*s.format.Channels)
	if _, err := io.ReadFull(s.stdout, buf); err != nil {
		return audio.Frame{}, fmt.Errorf("alsa: %w: %v", audio.ErrDeviceRead, err)
	}
	return audio.Frame{
		Data:       buf,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  time.Since(s.started),
	}, nil
}

// Close kills the arecord subprocess. A blocked ReadFrame returns with a
// read error once the pipe closes.
func (s *inputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stdout.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return nil
}

// OutputDevice plays PCM via aplay.
type OutputDevice struct {
	// Device is the ALSA device name. Empty means the ALSA default device.
	Device string
}

// OpenOutput starts an aplay subprocess and returns a stream writing chunks
// to its stdin.
func (d *OutputDevice) OpenOutput(ctx context.Context, format audio.Format) (audio.OutputStream, error) {
	args := []string{
		"-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(format.SampleRate),
		"-c", strconv.Itoa(format.Channels),
	}
	if d.Device != "" {
		args = append(args, "-D", d.Device)
	}

	cmd := exec.CommandContext(ctx, "aplay", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("alsa: %w: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("alsa: %w: aplay: %v", audio.ErrDeviceUnavailable, err)
	}

	return &outputStream{cmd: cmd, stdin: stdin}, nil
}

type outputStream struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu     sync.Mutex
	closed bool
}

// Write feeds one PCM chunk to aplay.
func (s *outputStream) Write(pcm []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("alsa: %w: stream closed", audio.ErrDeviceWrite)
	}
	if _, err := s.stdin.Write(pcm); err != nil {
		return fmt.Errorf("alsa: %w: %v", audio.ErrDeviceWrite, err)
	}
	return nil
}

// Close flushes stdin and waits for aplay to finish draining its buffer.
// Closing mid-transfer stops playback at the next buffer boundary.
func (s *outputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stdin.Close()
	_ = s.cmd.Wait()
	return nil
}
