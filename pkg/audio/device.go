package audio

import "context"

// InputDevice opens microphone capture streams. Implementations live in
// adapter packages (e.g. alsa for hardware capture, mock for tests).
//
// At most one component reads raw frames from a physical device at a time.
// Ownership moves by explicit hand-off: the current owner closes its stream
// before the next owner opens one.
type InputDevice interface {
	// OpenInput starts capture with the given format and frame size in
	// samples. Returns [ErrDeviceUnavailable] (wrapped) when the device
	// cannot be opened.
	OpenInput(ctx context.Context, format Format, frameSize int) (InputStream, error)
}

// InputStream is an open capture stream delivering fixed-size frames.
type InputStream interface {
	// ReadFrame blocks until one full frame is available. A failed read
	// returns an error wrapping [ErrDeviceRead]; callers may skip the frame
	// and retry, but repeated failures mean the stream is lost. After Close,
	// ReadFrame returns an error wrapping [ErrStreamNotStarted].
	ReadFrame() (Frame, error)

	// Close stops capture and releases the device. Safe to call while a
	// ReadFrame is blocked; the blocked call returns promptly with an error.
	// Calling Close more than once is safe.
	Close() error
}

// OutputDevice opens playback streams.
type OutputDevice interface {
	// OpenOutput starts playback with the given format. Returns
	// [ErrDeviceUnavailable] (wrapped) when the device cannot be opened.
	OpenOutput(ctx context.Context, format Format) (OutputStream, error)
}

// OutputStream is an open playback stream consuming PCM chunks.
type OutputStream interface {
	// Write plays one chunk of little-endian int16 PCM. A failed write
	// returns an error wrapping [ErrDeviceWrite].
	Write(pcm []byte) error

	// Close stops playback mid-transfer if necessary and releases the
	// device. Calling Close more than once is safe.
	Close() error
}
