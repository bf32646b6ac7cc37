package azure_test

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
	azureauth "github.com/tutorbotics/calliope/pkg/provider/azure"
	"github.com/tutorbotics/calliope/pkg/provider/stt"
	"github.com/tutorbotics/calliope/pkg/provider/stt/azure"
)

func testClip() *audio.Clip {
	return &audio.Clip{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}
}

func newTokenSource(t *testing.T) *azureauth.TokenSource {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("test-token"))
	}))
	t.Cleanup(srv.Close)
	src, err := azureauth.NewTokenSource("westus", "key", azureauth.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewTokenSource() error: %v", err)
	}
	return src
}

func TestRecognize_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "audio/wav" {
			t.Errorf("Content-Type = %q", got)
		}
		q := r.URL.Query()
		if q.Get("language") != "en-US" || q.Get("format") != "detailed" {
			t.Errorf("query = %v", q)
		}
		// Body must be a RIFF WAV container.
		head := make([]byte, 4)
		if _, err := r.Body.Read(head); err != nil || string(head) != "RIFF" {
			t.Errorf("body does not start with RIFF header: %q", head)
		}
		w.Write([]byte(`{
			"RecognitionStatus": "Success",
			"DisplayText": "What is two plus two?",
			"NBest": [{"Confidence": 0.94, "Display": "What is two plus two?"}]
		}`))
	}))
	t.Cleanup(srv.Close)

	p, err := azure.New(newTokenSource(t), "westus", azure.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tr, err := p.Recognize(context.Background(), testClip())
	if err != nil {
		t.Fatalf("Recognize() error: %v", err)
	}
	if tr.Text != "What is two plus two?" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Confidence != 0.94 {
		t.Errorf("Confidence = %v, want 0.94", tr.Confidence)
	}
	if !tr.Final {
		t.Error("one-shot transcript not marked final")
	}
}

func TestRecognize_NoMatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"RecognitionStatus": "NoMatch"}`))
	}))
	t.Cleanup(srv.Close)

	p, err := azure.New(newTokenSource(t), "westus", azure.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = p.Recognize(context.Background(), testClip())
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("Recognize() error = %v, want ErrNoSpeech", err)
	}
}

func TestRecognize_EmptyClip(t *testing.T) {
	t.Parallel()

	p, err := azure.New(newTokenSource(t), "westus")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	_, err = p.Recognize(context.Background(), &audio.Clip{SampleRate: 16000, Channels: 1})
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("Recognize() error = %v, want ErrNoSpeech", err)
	}
}

func TestRecognize_RetriesOn401WithFreshToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"RecognitionStatus": "Success", "DisplayText": "ok"}`))
	}))
	t.Cleanup(srv.Close)

	p, err := azure.New(newTokenSource(t), "westus",
		azure.WithEndpoint(srv.URL),
		azure.WithRetryBackoff(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tr, err := p.Recognize(context.Background(), testClip())
	if err != nil {
		t.Fatalf("Recognize() error: %v", err)
	}
	if tr.Text != "ok" {
		t.Errorf("Text = %q, want ok", tr.Text)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("recognition endpoint hit %d times, want 2", got)
	}
}

func TestRecognize_GivesUpAfterRepeatedServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p, err := azure.New(newTokenSource(t), "westus",
		azure.WithEndpoint(srv.URL),
		azure.WithRetryBackoff(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := p.Recognize(context.Background(), testClip()); err == nil {
		t.Fatal("Recognize() succeeded against a 503 endpoint")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("recognition endpoint hit %d times, want 3", got)
	}
}

func TestRecognize_WavBodyCarriesClipFormat(t *testing.T) {
	t.Parallel()

	var gotRate uint32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 44)
		if _, err := r.Body.Read(buf); err == nil {
			gotRate = binary.LittleEndian.Uint32(buf[24:])
		}
		w.Write([]byte(`{"RecognitionStatus": "Success", "DisplayText": "hi"}`))
	}))
	t.Cleanup(srv.Close)

	p, err := azure.New(newTokenSource(t), "westus", azure.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := p.Recognize(context.Background(), testClip()); err != nil {
		t.Fatalf("Recognize() error: %v", err)
	}
	if gotRate != 16000 {
		t.Errorf("WAV sample rate = %d, want 16000", gotRate)
	}
}
