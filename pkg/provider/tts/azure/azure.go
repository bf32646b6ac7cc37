// Package azure provides an Azure Speech-backed [tts.Provider] using the
// REST synthesis endpoint. Text goes out as SSML, audio comes back as a
// complete RIFF WAV body, which keeps the dependency surface of small
// devices to one HTTP round trip per sentence.
package azure

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tutorbotics/calliope/pkg/audio"
	azureauth "github.com/tutorbotics/calliope/pkg/provider/azure"
	"github.com/tutorbotics/calliope/pkg/provider/tts"
)

const (
	// outputFormat is 24 kHz mono 16-bit WAV, the highest PCM rate the
	// playback path resamples without quality loss.
	outputFormat = "riff-24khz-16bit-mono-pcm"

	defaultVoice    = "en-US-DavisNeural"
	defaultLanguage = "en-US"
	maxAttempts     = 3
)

// synthesisEndpoint returns the REST synthesis URL for a region.
func synthesisEndpoint(region string) string {
	return fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region)
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client. Defaults to a 30 second timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithEndpoint overrides the synthesis URL. Intended for tests.
func WithEndpoint(url string) Option {
	return func(p *Provider) { p.endpoint = url }
}

// WithUserAgent sets the User-Agent header sent to the service.
func WithUserAgent(ua string) Option {
	return func(p *Provider) { p.userAgent = ua }
}

// WithRetryBackoff sets the initial delay between retry attempts. The delay
// doubles per attempt. Default 1 second.
func WithRetryBackoff(d time.Duration) Option {
	return func(p *Provider) { p.backoff = d }
}

// Provider implements [tts.Provider] against the Azure Speech REST API.
type Provider struct {
	tokens    *azureauth.TokenSource
	endpoint  string
	userAgent string
	client    *http.Client
	backoff   time.Duration
}

var _ tts.Provider = (*Provider)(nil)

// New creates a Provider for the given region, authenticating through
// tokens. The token source is shared with the recognition provider of the
// same subscription.
func New(tokens *azureauth.TokenSource, region string, opts ...Option) (*Provider, error) {
	if tokens == nil {
		return nil, errors.New("azure tts: token source must not be nil")
	}
	if region == "" {
		return nil, errors.New("azure tts: region must not be empty")
	}
	p := &Provider{
		tokens:    tokens,
		endpoint:  synthesisEndpoint(region),
		userAgent: "calliope-voice",
		client:    &http.Client{Timeout: 30 * time.Second},
		backoff:   time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements [tts.Provider]. A 401 invalidates the cached token
// and the request is retried with a fresh one; transient failures are
// retried with exponential backoff.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("azure tts: text must not be empty")
	}
	ssml := buildSSML(text, voice)

	delay := p.backoff
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		clip, retry, err := p.synthesizeOnce(ctx, ssml)
		if err == nil {
			return clip, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("azure tts: synthesis failed after %d attempts: %w", maxAttempts, lastErr)
}

func (p *Provider) synthesizeOnce(ctx context.Context, ssml string) (clip *audio.Clip, retry bool, err error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, true, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, false, fmt.Errorf("azure tts: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", outputFormat)
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("azure tts: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		p.tokens.Invalidate()
		return nil, true, errors.New("azure tts: token rejected")
	case resp.StatusCode != http.StatusOK:
		return nil, true, fmt.Errorf("azure tts: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("azure tts: read audio: %w", err)
	}
	clip, err = audio.DecodeWAV(body)
	if err != nil {
		return nil, false, fmt.Errorf("azure tts: decode audio: %w", err)
	}
	return clip, false, nil
}

// buildSSML renders the SSML document for one synthesis request. The text
// is XML-escaped; voice fields that are zero are omitted so the service
// falls back to the voice's natural delivery.
func buildSSML(text string, voice tts.VoiceProfile) string {
	name := voice.Name
	if name == "" {
		name = defaultVoice
	}
	lang := voice.Language
	if lang == "" {
		lang = defaultLanguage
	}

	var escaped bytes.Buffer
	xml.EscapeText(&escaped, []byte(text))
	inner := escaped.String()

	if voice.Style != "" {
		degree := voice.StyleDegree
		if degree <= 0 {
			degree = 1
		}
		inner = fmt.Sprintf(`<mstts:express-as style=%q styledegree="%g">%s</mstts:express-as>`,
			voice.Style, degree, inner)
	}
	if voice.Rate != 0 || voice.Pitch != "" {
		var attrs strings.Builder
		if voice.Rate != 0 {
			fmt.Fprintf(&attrs, ` rate="%g"`, voice.Rate)
		}
		if voice.Pitch != "" {
			fmt.Fprintf(&attrs, ` pitch=%q`, voice.Pitch)
		}
		inner = fmt.Sprintf(`<prosody%s>%s</prosody>`, attrs.String(), inner)
	}

	return fmt.Sprintf(
		`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="http://www.w3.org/2001/mstts" xml:lang=%q><voice name=%q>%s</voice></speak>`,
		lang, name, inner)
}
