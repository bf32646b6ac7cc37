// Package mock provides a test double for the llm.Provider interface.
//
// Set StreamChunks to script what StreamCompletion emits, or StreamErr to
// make the stream fail to start. All calls are recorded for assertions.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/tutorbotics/calliope/pkg/provider/llm"
)

// Provider is a mock implementation of [llm.Provider]. It is safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is the sequence emitted on the channel returned by
	// StreamCompletion, sent in order before the channel closes. A final
	// chunk with FinishReason [llm.FinishStop] is appended when the script
	// does not end with one.
	StreamChunks []llm.Chunk

	// StreamErr, when non-nil, is returned by StreamCompletion instead of
	// opening a channel.
	StreamErr error

	// ChunkDelay is slept before each emitted chunk to simulate generation
	// latency.
	ChunkDelay time.Duration

	// CompleteResponse is returned by Complete. Nil yields a response whose
	// Content is the concatenation of StreamChunks.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, when non-nil, is returned by every Complete call.
	CompleteErr error

	// StreamCalls and CompleteCalls record the requests passed in, in order.
	StreamCalls   []llm.CompletionRequest
	CompleteCalls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, req)
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	err := p.StreamErr
	delay := p.ChunkDelay
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if n := len(chunks); n == 0 || chunks[n-1].FinishReason == "" {
		chunks = append(chunks, llm.Chunk{FinishReason: llm.FinishStop})
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	resp := p.CompleteResponse
	err := p.CompleteErr
	chunks := p.StreamChunks
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	var content string
	for _, c := range chunks {
		content += c.Text
	}
	return &llm.CompletionResponse{Content: content}, nil
}

// Streams returns how many StreamCompletion calls were made.
func (p *Provider) Streams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}
