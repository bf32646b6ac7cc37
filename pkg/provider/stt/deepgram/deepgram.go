// Package deepgram provides a Deepgram-backed [stt.StreamingProvider] using
// the streaming WebSocket API. It is the low-latency alternative to the
// Azure REST provider: partial transcripts arrive while the user is still
// speaking.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/tutorbotics/calliope/pkg/audio"
	"github.com/tutorbotics/calliope/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// sendChunkBytes is the PCM chunk size used when replaying a finalized
	// clip through the streaming connection.
	sendChunkBytes = 8192
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 recognition language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the WebSocket endpoint. Intended for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements [stt.StreamingProvider] backed by Deepgram.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
}

var _ stt.StreamingProvider = (*Provider)(nil)

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize implements [stt.Provider] by replaying the clip through a
// short-lived streaming session and concatenating the final transcripts.
func (p *Provider) Recognize(ctx context.Context, clip *audio.Clip) (stt.Transcript, error) {
	if clip.Empty() {
		return stt.Transcript{}, stt.ErrNoSpeech
	}

	sess, err := p.StartStream(ctx, stt.StreamConfig{
		SampleRate: clip.SampleRate,
		Channels:   clip.Channels,
	})
	if err != nil {
		return stt.Transcript{}, err
	}

	go func() {
		for range sess.Partials() {
		}
	}()

	var (
		texts     []string
		confSum   float64
		confCount int
		collected = make(chan struct{})
	)
	go func() {
		defer close(collected)
		for tr := range sess.Finals() {
			if tr.Text == "" {
				continue
			}
			texts = append(texts, tr.Text)
			confSum += tr.Confidence
			confCount++
		}
	}()

	for off := 0; off < len(clip.PCM); off += sendChunkBytes {
		end := off + sendChunkBytes
		if end > len(clip.PCM) {
			end = len(clip.PCM)
		}
		if err := sess.SendAudio(clip.PCM[off:end]); err != nil {
			sess.Close()
			<-collected
			return stt.Transcript{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}

	sess.Close()
	select {
	case <-collected:
	case <-ctx.Done():
		return stt.Transcript{}, ctx.Err()
	}

	if len(texts) == 0 {
		return stt.Transcript{}, stt.ErrNoSpeech
	}
	tr := stt.Transcript{Text: strings.Join(texts, " "), Final: true}
	if confCount > 0 {
		tr.Confidence = confSum / float64(confCount)
	}
	return tr, nil
}

// StartStream implements [stt.StreamingProvider].
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)
	return sess, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure of a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live streaming session. It implements [stt.SessionHandle].
type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM chunk for delivery.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close flushes pending audio, asks the service to finalize, and tears the
// connection down once the result stream ends.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop sends queued audio chunks as binary messages.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Flush whatever is still queued before exiting.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives Results events and dispatches them to the partial and
// final channels. It exits when the server closes the stream.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		tr, final, ok := parseResponse(msg)
		if !ok {
			continue
		}
		out := s.partials
		if final {
			out = s.finals
		}
		select {
		case out <- tr:
		default:
			// Slow consumer: drop rather than stall the socket.
		}
	}
}

// parseResponse converts a raw message into a Transcript. ok is false for
// non-Result events and unparseable payloads.
func parseResponse(data []byte) (tr stt.Transcript, final, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false, false
	}
	alt := resp.Channel.Alternatives[0]
	return stt.Transcript{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Final:      resp.IsFinal,
	}, resp.IsFinal, true
}
