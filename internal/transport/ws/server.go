// Package ws serves the device side of hearken: a WebSocket endpoint speaking
// the xiaozhi-style protocol.
//
// A device connects, sends a hello with its audio parameters, and then
// streams one Opus packet per binary frame. Text frames carry control
// messages (listen, abort, tts) that are interleaved with the audio on the
// session's inbound queue, so the ingest loop sees them in arrival order.
// Accepted transcripts are sent back as stt messages.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hearken/internal/dispatch"
	"github.com/MrWong99/hearken/internal/ingest"
	"github.com/MrWong99/hearken/internal/observe"
)

const (
	defaultHelloTimeout = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultQueueSize    = 64

	// readLimit bounds one frame. Opus packets are a few hundred bytes.
	readLimit = 64 << 10
)

// ErrClosed is returned by [Server.Handler] connections after [Server.Shutdown].
var ErrClosed = errors.New("ws: server closed")

// Config configures a [Server].
type Config struct {
	// AuthToken, if set, must be presented as "Authorization: Bearer <token>"
	// or as the "token" query parameter.
	AuthToken string

	// IdleTimeout closes a connection with a goodbye after this long without
	// speech. Zero or negative disables it.
	IdleTimeout time.Duration

	// HelloTimeout bounds the wait for the device's hello. Default: 10 s.
	HelloTimeout time.Duration

	// QueueSize is the capacity of each session's inbound queue. Default: 64.
	QueueSize int
}

// Option is a functional option for [NewServer].
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithDetectSink routes the text of listen/detect messages, which the device
// recognised locally, to sink. Without it such text is only logged.
func WithDetectSink(sink dispatch.Sink) Option {
	return func(s *Server) { s.detect = sink }
}

// Server accepts device connections and runs one ingest session per
// connection. It implements [dispatch.Sink] and [dispatch.PartialSink] so it
// can be part of the controller's fan-out: transcripts are routed back to the
// connection that produced them.
type Server struct {
	cfg    Config
	log    *slog.Logger
	detect dispatch.Sink

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
	wg     sync.WaitGroup
}

var (
	_ dispatch.Sink        = (*Server)(nil)
	_ dispatch.PartialSink = (*Server)(nil)
)

// NewServer returns a Server. Mount [Server.Handler] on an HTTP mux.
func NewServer(cfg Config, opts ...Option) *Server {
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = defaultHelloTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	s := &Server{
		cfg:   cfg,
		log:   slog.Default(),
		conns: make(map[string]*conn),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// conn is one device connection bound to an ingest session.
type conn struct {
	ws       *websocket.Conn
	id       string
	deviceID string
	log      *slog.Logger
}

func (c *conn) send(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", m.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("ws: write %s: %w", m.Type, err)
	}
	return nil
}

// Handler returns the HTTP handler that upgrades device connections and
// feeds them to ctrl.
func (s *Server) Handler(ctrl *ingest.Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(ctrl, w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) serve(ctrl *ingest.Controller, w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	deviceID := r.Header.Get("Device-Id")
	if deviceID == "" {
		deviceID = r.URL.Query().Get("device-id")
	}

	// Devices are not browsers and send no Origin header worth checking.
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "device_id", deviceID, "err", err)
		return
	}
	wsConn.SetReadLimit(readLimit)

	ctx, span := observe.StartSpan(r.Context(), "ws.connection",
		trace.WithAttributes(attribute.String("device_id", deviceID)))
	defer span.End()

	if err := s.session(ctx, ctrl, wsConn, deviceID); err != nil {
		span.RecordError(err)
		s.log.Info("device connection closed", "device_id", deviceID, "err", err)
		wsConn.Close(websocket.StatusPolicyViolation, truncateReason(err.Error()))
		return
	}
	wsConn.Close(websocket.StatusNormalClosure, "")
}

// session runs the hello handshake and then the ingest loop until the device
// disconnects, the idle timeout fires, or the server shuts down.
func (s *Server) session(ctx context.Context, ctrl *ingest.Controller, wsConn *websocket.Conn, deviceID string) error {
	cfg := ctrl.Config()
	hello, err := s.readHello(ctx, wsConn)
	if err != nil {
		return err
	}
	if err := negotiate(hello.AudioParams, cfg.SampleRate, cfg.FrameDuration); err != nil {
		return err
	}

	sess, err := ctrl.NewSession(ctx, "")
	if err != nil {
		return err
	}
	c := &conn{
		ws:       wsConn,
		id:       sess.ID(),
		deviceID: deviceID,
		log:      observe.SessionLogger(ctx, s.log, sess.ID()).With("device_id", deviceID),
	}
	defer ctrl.CloseSession(context.WithoutCancel(ctx), sess)

	// A session registered after Shutdown swept the map would never be
	// closed, so the check and the insert happen under one lock.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.conns[c.id] = c
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
	}()

	reply := Message{
		Type:      TypeHello,
		Transport: "websocket",
		SessionID: c.id,
		AudioParams: &AudioParams{
			Format:        FormatOpus,
			SampleRate:    cfg.SampleRate,
			Channels:      1,
			FrameDuration: int(cfg.FrameDuration.Milliseconds()),
		},
	}
	if err := c.send(ctx, reply); err != nil {
		return err
	}
	c.log.Info("device session started", "version", hello.Version)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan ingest.Record, s.cfg.QueueSize)
	go s.read(loopCtx, c, in)

	var opts []ingest.RunOption
	if s.cfg.IdleTimeout > 0 {
		opts = append(opts, ingest.WithIdleTimeout(s.cfg.IdleTimeout, func() {
			c.log.Info("closing idle device session")
			if err := c.send(loopCtx, Message{Type: TypeGoodbye, SessionID: c.id, Reason: "idle"}); err != nil {
				c.log.Debug("sending goodbye", "err", err)
			}
			// The reader sees the close, ends the queue, and Run returns.
			wsConn.Close(websocket.StatusNormalClosure, "idle")
		}))
	}
	return ingest.Run(loopCtx, ctrl, sess, in, opts...)
}

func (s *Server) readHello(ctx context.Context, wsConn *websocket.Conn) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HelloTimeout)
	defer cancel()
	typ, data, err := wsConn.Read(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("ws: waiting for hello: %w", err)
	}
	if typ != websocket.MessageText {
		return Message{}, fmt.Errorf("ws: expected hello, got binary frame")
	}
	m, err := decodeMessage(data)
	if err != nil {
		return Message{}, err
	}
	if m.Type != TypeHello {
		return Message{}, fmt.Errorf("ws: expected hello, got %q", m.Type)
	}
	return m, nil
}

// read pumps frames from the connection into in until the connection fails
// or ctx is done, then closes in.
func (s *Server) read(ctx context.Context, c *conn, in chan<- ingest.Record) {
	defer close(in)
	push := func(r ingest.Record) bool {
		select {
		case in <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				c.log.Debug("device read failed", "err", err)
			}
			return
		}
		if typ == websocket.MessageBinary {
			if !push(ingest.Frame(data)) {
				return
			}
			continue
		}
		m, err := decodeMessage(data)
		if err != nil {
			c.log.Debug("dropping malformed message", "err", err)
			continue
		}
		for _, r := range s.records(ctx, c, m) {
			if !push(r) {
				return
			}
		}
	}
}

// records translates one control message into inbound queue records.
func (s *Server) records(ctx context.Context, c *conn, m Message) []ingest.Record {
	switch m.Type {
	case TypeListen:
		switch m.State {
		case StateStart:
			return []ingest.Record{{Control: ingest.ControlListenStart}}
		case StateStop:
			return []ingest.Record{{Control: ingest.ControlListenStop}}
		case StateDetect:
			s.detected(ctx, c, m.Text)
			return nil
		}
	case TypeTTS:
		switch m.State {
		case StateStart:
			return []ingest.Record{{Control: ingest.ControlSpeakStart}}
		case StateStop:
			recs := []ingest.Record{{Control: ingest.ControlSpeakStop}}
			if m.ExpectResponse != nil {
				recs = append(recs, ingest.Record{Control: ingest.ControlExpectResponse, Flag: *m.ExpectResponse})
			}
			return recs
		}
	case TypeAbort:
		// The device cut playback short; for the echo gate that is the end
		// of playback.
		return []ingest.Record{{Control: ingest.ControlSpeakStop}}
	case TypeHello:
		c.log.Debug("ignoring repeated hello")
		return nil
	}
	c.log.Debug("ignoring message", "type", m.Type, "state", m.State)
	return nil
}

func (s *Server) detected(ctx context.Context, c *conn, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.log.Info("device detected text", "text", text)
	if s.detect == nil {
		return
	}
	if err := s.detect.OnFinalTranscript(ctx, c.id, text); err != nil {
		c.log.Warn("dispatching detected text", "err", err)
	}
}

func (s *Server) lookup(sessionID string) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[sessionID]
}

// OnFinalTranscript sends text to the device of sessionID as an stt message.
// Transcripts for sessions that are no longer connected are dropped.
func (s *Server) OnFinalTranscript(ctx context.Context, sessionID, text string) error {
	c := s.lookup(sessionID)
	if c == nil {
		s.log.Debug("transcript for disconnected session", "session_id", sessionID)
		return nil
	}
	return c.send(ctx, Message{Type: TypeSTT, SessionID: sessionID, Text: text})
}

// OnPartialTranscript sends a partial stt message. Failures are logged only.
func (s *Server) OnPartialTranscript(ctx context.Context, sessionID, text string) {
	c := s.lookup(sessionID)
	if c == nil {
		return
	}
	if err := c.send(ctx, Message{Type: TypeSTT, State: StatePartial, SessionID: sessionID, Text: text}); err != nil {
		c.log.Debug("sending partial", "err", err)
	}
}

// Sessions returns the number of connected device sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown refuses new connections, closes every open one with "going away",
// and waits for their sessions to finish, so that final transcripts of open
// utterances are dispatched. It returns ctx.Err() if ctx ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		go c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncateReason keeps a close reason within the 123 bytes a close frame
// allows.
func truncateReason(s string) string {
	if len(s) > 120 {
		return s[:120]
	}
	return s
}
