package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tutorbotics/calliope/pkg/provider/llm"
)

func userTurn(text string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: text}},
	}
}

func collect(t *testing.T, ch <-chan llm.Chunk) (text string, finish string) {
	t.Helper()
	var sb strings.Builder
	for c := range ch {
		sb.WriteString(c.Text)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	return sb.String(), finish
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer flow-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamCompletion_DeltaContent(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"Great "}}]}`,
		`data: {"choices":[{"delta":{"content":"question!"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	)
	p, err := New(srv.URL, "flow-key")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ch, err := p.StreamCompletion(context.Background(), userTurn("What is 2+2?"))
	if err != nil {
		t.Fatalf("StreamCompletion() error: %v", err)
	}
	text, finish := collect(t, ch)
	if text != "Great question!" {
		t.Errorf("streamed text = %q", text)
	}
	if finish != llm.FinishStop {
		t.Errorf("finish reason = %q", finish)
	}
}

func TestStreamCompletion_BareTextAndChunkFields(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		`data: {"text":"One. "}`,
		`data: {"chunk":"Two."}`,
		`data: [DONE]`,
	)
	p, err := New(srv.URL, "flow-key")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ch, err := p.StreamCompletion(context.Background(), userTurn("count"))
	if err != nil {
		t.Fatalf("StreamCompletion() error: %v", err)
	}
	text, finish := collect(t, ch)
	if text != "One. Two." {
		t.Errorf("streamed text = %q", text)
	}
	if finish != llm.FinishStop {
		t.Errorf("finish reason = %q", finish)
	}
}

func TestStreamCompletion_SkipsMalformedFrames(t *testing.T) {
	t.Parallel()

	srv := sseServer(t,
		`data: {not json`,
		`: keep-alive comment`,
		`data: {"text":"ok"}`,
		`data: [DONE]`,
	)
	p, err := New(srv.URL, "flow-key")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ch, err := p.StreamCompletion(context.Background(), userTurn("hi"))
	if err != nil {
		t.Fatalf("StreamCompletion() error: %v", err)
	}
	text, _ := collect(t, ch)
	if text != "ok" {
		t.Errorf("streamed text = %q", text)
	}
}

func TestStreamCompletion_RequestPayload(t *testing.T) {
	t.Parallel()

	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	p, err := New(srv.URL, "flow-key",
		WithLearnerID("student-7"),
		WithSessionID("CALLIOPE_deadbeef"),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	req := llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "What is gravity?"},
			{Role: llm.RoleAssistant, Content: "A force between masses."},
			{Role: llm.RoleUser, Content: "Who discovered it?"},
		},
	}
	ch, err := p.StreamCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("StreamCompletion() error: %v", err)
	}
	collect(t, ch)

	if got.UserMessage != "Who discovered it?" {
		t.Errorf("user_message = %q", got.UserMessage)
	}
	if got.ActionType != "chat" || !got.Stream {
		t.Errorf("action_type = %q, stream = %v", got.ActionType, got.Stream)
	}
	if got.LearnerID != "student-7" || got.SessionID != "CALLIOPE_deadbeef" {
		t.Errorf("learner = %q, session = %q", got.LearnerID, got.SessionID)
	}
	if len(got.ChatHistory) != 2 || got.ChatHistory[0].Content != "What is gravity?" {
		t.Errorf("chat_history = %+v", got.ChatHistory)
	}
}

func TestStreamCompletion_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	p, err := New(srv.URL, "flow-key")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := p.StreamCompletion(context.Background(), userTurn("hi")); err == nil {
		t.Fatal("StreamCompletion() succeeded against a 502 endpoint")
	}
}

func TestStreamCompletion_LastMessageMustBeUser(t *testing.T) {
	t.Parallel()

	p, err := New("http://unused.invalid", "flow-key")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	req := llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleAssistant, Content: "Hello!"}},
	}
	if _, err := p.StreamCompletion(context.Background(), req); err == nil {
		t.Fatal("StreamCompletion() accepted a history ending with the assistant")
	}
}

func TestComplete_FinalAnswer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got request
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if got.Stream {
			t.Error("non-streaming request asked for a stream")
		}
		json.NewEncoder(w).Encode(map[string]string{"final_answer": "Four."})
	}))
	t.Cleanup(srv.Close)

	p, err := New(srv.URL, "flow-key")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	resp, err := p.Complete(context.Background(), userTurn("What is 2+2?"))
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Content != "Four." {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestComplete_MissingFinalAnswer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"something_else": true}`)
	}))
	t.Cleanup(srv.Close)

	p, err := New(srv.URL, "flow-key")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := p.Complete(context.Background(), userTurn("hi")); err == nil {
		t.Fatal("Complete() accepted a response without final_answer")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "key"); err == nil {
		t.Error("New() accepted an empty endpoint")
	}
	if _, err := New("http://example.com", ""); err == nil {
		t.Error("New() accepted an empty api key")
	}
}
