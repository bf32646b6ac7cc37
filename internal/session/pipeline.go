package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/provider/llm"
	"github.com/tutorbotics/calliope/pkg/stream"
)

// runPipeline streams the generated reply, splits it into sentence units and
// speaks each one in order, overlapping synthesis and playback of early
// sentences with generation of later ones.
//
// Three workers run under one errgroup: the generation worker forwards
// token text from the provider stream, the coordinator worker splits tokens
// into sentence units feeding a bounded FIFO, and the playback worker
// synthesizes and plays units until the queue drains or the student barges
// in. A confirmed interrupt cancels generation and drops every queued unit.
//
// Returns the concatenated spoken text, whether playback was interrupted,
// and the stream error if generation failed. A non-empty spoken text with a
// non-nil error means the reply was cut short but partially delivered.
func (c *Controller) runPipeline(ctx context.Context, req llm.CompletionRequest, dispatchStart time.Time) (string, bool, error) {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	llmStart := time.Now()
	chunks, err := c.gen.StreamCompletion(pctx, req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordProviderRequest(ctx, c.cfg.Providers.llm(), "llm", "error")
			c.metrics.RecordProviderError(ctx, c.cfg.Providers.llm(), "llm")
		}
		return "", false, fmt.Errorf("session: open generation stream: %w", err)
	}

	tokens := make(chan string, 16)
	units := make(chan string, c.cfg.MaxQueuedSentences)

	var (
		streamErr   error
		spoken      []string
		interrupted bool
		dropped     int
	)

	g, gctx := errgroup.WithContext(pctx)

	// Generation worker: provider chunks to token text.
	g.Go(func() error {
		defer close(tokens)
		for chunk := range chunks {
			if chunk.FinishReason == llm.FinishError {
				streamErr = fmt.Errorf("session: generation stream failed")
				return nil
			}
			if chunk.Text == "" {
				continue
			}
			select {
			case tokens <- chunk.Text:
			case <-gctx.Done():
				// Unblock the provider goroutine before leaving.
				for range chunks {
				}
				return nil
			}
		}
		if c.metrics != nil {
			c.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
			c.metrics.RecordProviderRequest(ctx, c.cfg.Providers.llm(), "llm", "ok")
		}
		return nil
	})

	// Coordinator worker: tokens to ordered sentence units.
	g.Go(func() error {
		stream.Forward(gctx, tokens, units, c.cfg.MinSentenceLength)
		return nil
	})

	// Playback worker: units to audible speech.
	g.Go(func() error {
		first := true
		for unit := range units {
			if interrupted {
				dropped++
				continue
			}

			clip, err := c.synthesize(gctx, unit)
			if err != nil {
				if gctx.Err() != nil {
					dropped++
					continue
				}
				c.log.Warn("sentence synthesis failed, skipping unit",
					"err", err, "chars", len(unit))
				dropped++
				continue
			}

			if first {
				first = false
				c.setState(StatePlaying)
				if c.metrics != nil {
					c.metrics.InteractionDuration.Record(ctx, time.Since(dispatchStart).Seconds())
				}
			}

			res, err := c.speaker.Play(pctx, clip)
			if err != nil {
				if pctx.Err() != nil {
					dropped++
					continue
				}
				c.log.Warn("sentence playback failed, skipping unit", "err", err)
				dropped++
				continue
			}

			spoken = append(spoken, unit)
			if c.metrics != nil {
				c.metrics.RecordSentenceUnit(ctx, "played")
			}
			if res.Interrupted {
				interrupted = true
				cancel()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && streamErr == nil && ctx.Err() == nil {
		streamErr = err
	}

	if dropped > 0 && c.metrics != nil {
		for range dropped {
			c.metrics.RecordSentenceUnit(ctx, "dropped")
		}
	}

	return strings.Join(spoken, " "), interrupted, streamErr
}

// synthesize renders one sentence unit with the configured request timeout.
func (c *Controller) synthesize(ctx context.Context, unit string) (*audio.Clip, error) {
	sctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	clip, err := c.synth.Synthesize(sctx, unit, c.cfg.Voice)
	if c.metrics != nil {
		c.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
			c.metrics.RecordProviderError(ctx, c.cfg.Providers.tts(), "tts")
		}
		c.metrics.RecordProviderRequest(ctx, c.cfg.Providers.tts(), "tts", status)
	}
	return clip, err
}
