// Package stream turns an incremental text token stream into complete
// sentence units ready for speech synthesis.
//
// Synthesizing whole responses adds seconds of dead air before the first
// audio. The [Coordinator] instead buffers streamed tokens just long enough
// to find a sentence boundary, so synthesis and playback of early sentences
// overlap with generation of later ones.
package stream

import (
	"context"
	"strings"
)

// DefaultMinLength is the default minimum unit length in characters. Units
// shorter than the minimum are held and merged into the next sentence so
// that abbreviations and stray terminators do not produce one-word audio
// clips.
const DefaultMinLength = 10

// Coordinator accumulates streamed text and splits it into sentence units.
//
// A sentence boundary is a run of '.', '!' or '?' followed by whitespace or
// sitting at the end of the buffer. The rule is a heuristic: it over-splits
// on abbreviations ("Dr. Smith") and decimal points, which the minimum-length
// hold mostly absorbs in practice.
//
// Coordinator is not safe for concurrent use; [Forward] wraps one in a
// single goroutine.
type Coordinator struct {
	buf strings.Builder
	min int
}

// NewCoordinator creates a Coordinator. minLength <= 0 selects
// [DefaultMinLength].
func NewCoordinator(minLength int) *Coordinator {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Coordinator{min: minLength}
}

// AddChunk appends chunk to the internal buffer and returns all sentence
// units completed by it, in order. Text up to a boundary that is still
// shorter than the minimum length is held back and merged into the next
// unit rather than emitted.
func (c *Coordinator) AddChunk(chunk string) []string {
	if chunk == "" {
		return nil
	}
	c.buf.WriteString(chunk)

	var units []string
	s := c.buf.String()
	for {
		end := boundaryEnd(s, c.min)
		if end < 0 {
			break
		}
		unit := strings.TrimSpace(s[:end])
		s = strings.TrimLeft(s[end:], " \t\n\r")
		if unit != "" {
			units = append(units, unit)
		}
	}
	c.buf.Reset()
	c.buf.WriteString(s)
	return units
}

// Flush returns whatever text remains in the buffer, trimmed, bypassing the
// minimum-length gate. The second return is false when the buffer held only
// whitespace. The buffer is empty afterwards.
func (c *Coordinator) Flush() (string, bool) {
	rest := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	if rest == "" {
		return "", false
	}
	return rest, true
}

// Pending returns the number of buffered characters not yet emitted.
func (c *Coordinator) Pending() int {
	return c.buf.Len()
}

// boundaryEnd returns the index just past the first sentence boundary whose
// preceding text meets the minimum length, or -1 when s holds no such
// boundary. A boundary is a run of terminator characters followed by
// whitespace or the end of s.
func boundaryEnd(s string, min int) int {
	for i := 0; i < len(s); i++ {
		if !isTerminator(s[i]) {
			continue
		}
		end := i + 1
		for end < len(s) && isTerminator(s[end]) {
			end++
		}
		if end < len(s) && !isSpace(s[end]) {
			// Terminator embedded in a word or number, e.g. "3.14".
			i = end - 1
			continue
		}
		if len(strings.TrimSpace(s[:end])) >= min {
			return end
		}
		// Too short: hold and look for the next boundary.
		i = end - 1
	}
	return -1
}

func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Forward reads token chunks from tokens, splits them into sentence units
// and sends each unit to units in order. When tokens closes, any remaining
// buffered text is flushed as a final unit and units is closed. Returns
// early when ctx is cancelled; units is closed in every case.
func Forward(ctx context.Context, tokens <-chan string, units chan<- string, minLength int) {
	defer close(units)
	c := NewCoordinator(minLength)
	for {
		select {
		case <-ctx.Done():
			return
		case tok, ok := <-tokens:
			if !ok {
				if rest, found := c.Flush(); found {
					select {
					case units <- rest:
					case <-ctx.Done():
					}
				}
				return
			}
			for _, u := range c.AddChunk(tok) {
				select {
				case units <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
