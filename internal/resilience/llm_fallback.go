package resilience

import (
	"context"

	"github.com/tutorbotics/calliope/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across generation
// backends, each behind its own circuit breaker. With a tripped primary the
// tutor keeps answering from the next backend instead of speaking the canned
// apology every turn.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback builds a fallback chain with primary as the preferred
// generation backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends another generation backend to the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete serves the request from the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a token stream on the first healthy backend. Only
// opening the stream is covered by failover; a stream that dies mid-reply
// surfaces to the caller, which already keeps whatever sentences were spoken.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}
