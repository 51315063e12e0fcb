// Package deepgram provides a Deepgram-backed recognizer using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Audio is forwarded as binary messages as soon as it is fed. A background
// reader collects interim and final results; End sends CloseStream, waits for
// Deepgram to flush and close the socket, and returns the joined finals.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/hearken/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		if language != "" {
			p.language = language
		}
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint (ws:// or wss://).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		if endpoint != "" {
			p.endpoint = endpoint
		}
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Channels, cfg.Language, and cfg.Keywords.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
		HTTPClient: p.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The reader outlives the StartStream context; Close cancels it.
	readCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    slog.With("provider", "deepgram", "session_id", cfg.SessionID),
	}
	go sess.readLoop(readCtx)
	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
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
		sr = p.sampleRate
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

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Hearken:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
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

// result is one parsed Results message.
type result struct {
	Text    string
	IsFinal bool
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{} // closed when readLoop returns
	log    *slog.Logger

	mu      sync.Mutex
	segs    stt.Segments
	partial string // newest interim not yet returned by Feed
	readErr error
	ended   bool

	closeOnce sync.Once
}

// Feed sends one PCM chunk and returns the newest interim transcript received
// since the previous call.
func (s *session) Feed(ctx context.Context, pcm []byte) (string, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return "", stt.ErrSessionClosed
	}
	if s.readErr != nil {
		err := s.readErr
		s.mu.Unlock()
		return "", fmt.Errorf("deepgram: read: %w", err)
	}
	partial := s.partial
	s.partial = ""
	s.mu.Unlock()

	if err := s.conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return "", fmt.Errorf("deepgram: write audio: %w", err)
	}
	return partial, nil
}

// End asks Deepgram to flush the buffered audio and close the stream, waits
// for the socket to close, and returns the assembled final transcript.
func (s *session) End(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return "", stt.ErrSessionClosed
	}
	s.ended = true
	s.mu.Unlock()

	if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Finalize"}`)); err != nil {
		return "", fmt.Errorf("deepgram: finalize: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return "", fmt.Errorf("deepgram: wait for final: %w", ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return "", fmt.Errorf("deepgram: read: %w", s.readErr)
	}
	return s.segs.Text(), nil
}

// Close terminates the session without waiting for results.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		s.cancel()
		_ = s.conn.CloseNow()
	})
	return nil
}

// readLoop receives JSON messages from Deepgram until the socket closes.
// A normal closure after CloseStream is not an error.
func (s *session) readLoop(ctx context.Context) {
	defer close(s.done)
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.mu.Lock()
			if !s.ended {
				s.readErr = err
			}
			s.mu.Unlock()
			s.log.Debug("deepgram: read loop exit", "err", err)
			return
		}

		r, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		s.mu.Lock()
		if r.IsFinal {
			s.segs.Commit(r.Text)
		} else {
			s.segs.Interim(r.Text)
			if r.Text != "" {
				s.partial = r.Text
			}
		}
		s.mu.Unlock()
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message.
// Returns (result, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}
	return result{
		Text:    resp.Channel.Alternatives[0].Transcript,
		IsFinal: resp.IsFinal,
	}, true
}
