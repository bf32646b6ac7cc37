// Package flow provides an [llm.Provider] backed by an Azure Prompt Flow
// endpoint.
//
// Prompt Flow deployments wrap the model together with the tutoring prompt
// and learner-memory lookups behind a single HTTP endpoint, so this client
// only speaks the deployment's request schema: streamed replies arrive as
// Server-Sent Events, non-streamed ones as a JSON document with a
// final_answer field.
package flow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tutorbotics/calliope/pkg/provider/llm"
)

const (
	defaultLearnerID = "pi_student"
	actionChat       = "chat"

	// sseDone terminates the event stream.
	sseDone = "[DONE]"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client. Defaults to a 60 second timeout,
// which covers a full streamed reply.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithLearnerID sets the learner identifier sent with every request, which
// the deployment uses to look up per-student memory.
func WithLearnerID(id string) Option {
	return func(p *Provider) { p.learnerID = id }
}

// WithSessionID sets the conversation-continuity identifier sent with every
// request.
func WithSessionID(id string) Option {
	return func(p *Provider) { p.sessionID = id }
}

// Provider implements [llm.Provider] against an Azure Prompt Flow endpoint.
type Provider struct {
	endpoint  string
	apiKey    string
	learnerID string
	sessionID string
	client    *http.Client
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider for the given Prompt Flow endpoint.
func New(endpoint, apiKey string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("flow: endpoint must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("flow: api key must not be empty")
	}
	p := &Provider{
		endpoint:  endpoint,
		apiKey:    apiKey,
		learnerID: defaultLearnerID,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// request is the Prompt Flow deployment's input schema.
type request struct {
	UserMessage string        `json:"user_message"`
	ActionType  string        `json:"action_type"`
	LearnerID   string        `json:"learner_id"`
	SessionID   string        `json:"session_id"`
	ChatHistory []historyTurn `json:"chat_history"`
	Stream      bool          `json:"stream,omitempty"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// event is one SSE data payload. Deployments differ in where they put the
// text: OpenAI-shaped flows use choices[0].delta.content, simpler ones a
// bare text or chunk field.
type event struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Text  string `json:"text"`
	Chunk string `json:"chunk"`
}

// completeResponse is the non-streaming output schema.
type completeResponse struct {
	FinalAnswer string `json:"final_answer"`
}

// buildRequest splits the conversation into the current user message and
// prior history. The SystemPrompt is dropped: the deployment owns the
// tutoring prompt.
func (p *Provider) buildRequest(req llm.CompletionRequest, stream bool) (request, error) {
	out := request{
		ActionType:  actionChat,
		LearnerID:   p.learnerID,
		SessionID:   p.sessionID,
		ChatHistory: []historyTurn{},
		Stream:      stream,
	}

	last := len(req.Messages) - 1
	if last < 0 || req.Messages[last].Role != llm.RoleUser {
		return request{}, errors.New("flow: last message must be from the user")
	}
	out.UserMessage = req.Messages[last].Content
	for _, m := range req.Messages[:last] {
		out.ChatHistory = append(out.ChatHistory, historyTurn{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

func (p *Provider) post(ctx context.Context, body request, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("flow: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("flow: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("flow: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("flow: status %d", resp.StatusCode)
	}
	return resp, nil
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	body, err := p.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	resp, err := p.post(ctx, body, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		finish := llm.FinishStop
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" {
				continue
			}
			if data == sseDone {
				break
			}

			var ev event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				// Keep-alives and malformed frames are skipped.
				continue
			}
			text := ev.Text
			if text == "" {
				text = ev.Chunk
			}
			if len(ev.Choices) > 0 {
				if c := ev.Choices[0].Delta.Content; c != "" {
					text = c
				}
				if r := ev.Choices[0].FinishReason; r != "" {
					finish = r
				}
			}
			if text == "" {
				continue
			}

			select {
			case ch <- llm.Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case ch <- llm.Chunk{FinishReason: llm.FinishError, Text: err.Error()}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case ch <- llm.Chunk{FinishReason: finish}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}
	resp, err := p.post(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("flow: read response: %w", err)
	}
	var out completeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("flow: decode response: %w", err)
	}
	if out.FinalAnswer == "" {
		return nil, errors.New("flow: response carries no final_answer")
	}
	return &llm.CompletionResponse{Content: out.FinalAnswer}, nil
}
