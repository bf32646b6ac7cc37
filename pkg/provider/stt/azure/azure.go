// Package azure provides an Azure Speech-backed [stt.Provider] using the
// short-audio REST recognition endpoint. Utterance clips are sent as WAV in
// one request, which fits the capture-then-recognize conversation loop and
// avoids a persistent connection on small devices.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
	azureauth "github.com/tutorbotics/calliope/pkg/provider/azure"
	"github.com/tutorbotics/calliope/pkg/provider/stt"
)

const (
	defaultLanguage = "en-US"
	maxAttempts     = 3
)

// recognitionEndpoint returns the short-audio recognition URL for a region.
func recognitionEndpoint(region string) string {
	return fmt.Sprintf("https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1", region)
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 recognition language. Default "en-US".
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithHTTPClient sets the HTTP client. Defaults to a client with a 30 second
// timeout, matching the service's processing ceiling for short audio.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithEndpoint overrides the recognition URL. Intended for tests.
func WithEndpoint(url string) Option {
	return func(p *Provider) { p.endpoint = url }
}

// WithRetryBackoff sets the initial delay between retry attempts. The delay
// doubles per attempt. Default 1 second.
func WithRetryBackoff(d time.Duration) Option {
	return func(p *Provider) { p.backoff = d }
}

// Provider implements [stt.Provider] against the Azure Speech REST API.
type Provider struct {
	tokens   *azureauth.TokenSource
	endpoint string
	language string
	client   *http.Client
	backoff  time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider for the given region, authenticating through
// tokens. The token source is shared with the synthesis provider of the
// same subscription.
func New(tokens *azureauth.TokenSource, region string, opts ...Option) (*Provider, error) {
	if tokens == nil {
		return nil, errors.New("azure stt: token source must not be nil")
	}
	if region == "" {
		return nil, errors.New("azure stt: region must not be empty")
	}
	p := &Provider{
		tokens:   tokens,
		endpoint: recognitionEndpoint(region),
		language: defaultLanguage,
		client:   &http.Client{Timeout: 30 * time.Second},
		backoff:  time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// recognitionResponse is the service's JSON reply in detailed format.
type recognitionResponse struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	NBest             []struct {
		Confidence float64 `json:"Confidence"`
		Display    string  `json:"Display"`
	} `json:"NBest"`
}

// Recognize implements [stt.Provider]. The clip is serialized as WAV and
// posted to the short-audio endpoint. A 401 invalidates the cached token and
// the request is retried with a fresh one; transient failures are retried
// with exponential backoff.
func (p *Provider) Recognize(ctx context.Context, clip *audio.Clip) (stt.Transcript, error) {
	if clip.Empty() {
		return stt.Transcript{}, stt.ErrNoSpeech
	}
	wav := audio.EncodeWAV(clip)

	delay := p.backoff
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return stt.Transcript{}, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		tr, retry, err := p.recognizeOnce(ctx, wav)
		if err == nil {
			return tr, nil
		}
		if !retry {
			return stt.Transcript{}, err
		}
		lastErr = err
	}
	return stt.Transcript{}, fmt.Errorf("azure stt: recognition failed after %d attempts: %w", maxAttempts, lastErr)
}

// recognizeOnce performs a single recognition request. retry reports whether
// the error is worth another attempt.
func (p *Provider) recognizeOnce(ctx context.Context, wav []byte) (tr stt.Transcript, retry bool, err error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return stt.Transcript{}, true, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.requestURL(), bytes.NewReader(wav))
	if err != nil {
		return stt.Transcript{}, false, fmt.Errorf("azure stt: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return stt.Transcript{}, true, fmt.Errorf("azure stt: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		p.tokens.Invalidate()
		return stt.Transcript{}, true, errors.New("azure stt: token rejected")
	case resp.StatusCode != http.StatusOK:
		return stt.Transcript{}, true, fmt.Errorf("azure stt: status %d", resp.StatusCode)
	}

	var body recognitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return stt.Transcript{}, false, fmt.Errorf("azure stt: decode response: %w", err)
	}

	switch body.RecognitionStatus {
	case "Success":
		tr := stt.Transcript{Text: body.DisplayText, Final: true}
		if len(body.NBest) > 0 {
			tr.Confidence = body.NBest[0].Confidence
			if tr.Text == "" {
				tr.Text = body.NBest[0].Display
			}
		}
		return tr, false, nil
	case "NoMatch", "InitialSilenceTimeout":
		return stt.Transcript{}, false, stt.ErrNoSpeech
	default:
		return stt.Transcript{}, false, fmt.Errorf("azure stt: recognition status %q", body.RecognitionStatus)
	}
}

func (p *Provider) requestURL() string {
	q := url.Values{}
	q.Set("language", p.language)
	q.Set("format", "detailed")
	q.Set("profanity", "masked")
	return p.endpoint + "?" + q.Encode()
}
