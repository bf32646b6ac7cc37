package audio

import (
	"encoding/binary"
	"fmt"
)

// wavHeaderSize is the size of a canonical PCM WAV header.
const wavHeaderSize = 44

// EncodeWAV serializes a clip into a canonical 16-bit PCM WAV file. The
// recognition service boundary consumes exactly this layout.
func EncodeWAV(c *Clip) []byte {
	dataLen := len(c.PCM)
	buf := make([]byte, wavHeaderSize+dataLen)

	byteRate := c.SampleRate * c.Channels * 2
	blockAlign := c.Channels * 2

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(c.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(c.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[wavHeaderSize:], c.PCM)

	return buf
}

// DecodeWAV parses a 16-bit PCM WAV file into a Clip. Only uncompressed PCM
// is supported; chunks other than "fmt " and "data" are skipped.
func DecodeWAV(b []byte) (*Clip, error) {
	if len(b) < wavHeaderSize {
		return nil, fmt.Errorf("audio: wav too short: %d bytes", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	var (
		clip      Clip
		haveFmt   bool
		haveData  bool
		bitsPerSm uint16
	)

	// Walk the chunk list starting after the RIFF header.
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(b) {
			size = len(b) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("audio: wav fmt chunk too short: %d bytes", size)
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("audio: unsupported wav format %d (want PCM)", format)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bitsPerSm = binary.LittleEndian.Uint16(b[body+14 : body+16])
			haveFmt = true
		case "data":
			clip.PCM = make([]byte, size)
			copy(clip.PCM, b[body:body+size])
			haveData = true
		}

		// Chunks are word-aligned.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt || !haveData {
		return nil, fmt.Errorf("audio: wav missing fmt or data chunk")
	}
	if bitsPerSm != 16 {
		return nil, fmt.Errorf("audio: unsupported wav bit depth %d (want 16)", bitsPerSm)
	}
	return &clip, nil
}
