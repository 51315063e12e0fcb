// Package ingest couples voice activity detection to streaming speech
// recognition for one device connection at a time.
//
// Per connection a [Session] owns a frame decoder, a speech detector, a
// pre-roll ring, and an echo gate. [Controller.OnFrame] is the single ingress:
//
//	frame → decode → pre-roll → echo gate → analyze → recognizer
//
// On confirmed onset a recognizer session is opened and the pre-roll is
// replayed into it, so the first syllable is not lost. After the hangover
// the recognizer is ended, the final transcript is filtered, and accepted
// text goes to a [dispatch.Sink]. [Run] drives a Session from its inbound
// queue.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hearken/internal/dispatch"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/transcript"
	"github.com/MrWong99/hearken/internal/vad"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/audio/opus"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	vadmodel "github.com/MrWong99/hearken/pkg/provider/vad"
)

// Defaults applied by [NewController] to zero [ControllerConfig] fields.
const (
	DefaultStartTimeout = 10 * time.Second
	DefaultEndTimeout   = 3 * time.Second
)

// ControllerConfig holds the per-session parameters. Each session keeps the
// config that was current when it was created.
type ControllerConfig struct {
	// SampleRate of decoded audio, 8000 or 16000. Default: 16000.
	SampleRate int

	// FrameDuration is the nominal inbound packet length. Default: 60 ms.
	FrameDuration time.Duration

	// VAD are the speech detector parameters. The sample rate is taken from
	// SampleRate. A zero value selects [vad.DefaultParams].
	VAD vad.Params

	// PreRoll is how much audio before onset is replayed to the recognizer.
	PreRoll time.Duration

	// EchoWindow is how long onset is suppressed after listening starts.
	EchoWindow time.Duration

	// StartTimeout bounds opening a recognizer session. Default: 10 s.
	StartTimeout time.Duration

	// EndTimeout bounds flushing a recognizer session. Default: 3 s.
	EndTimeout time.Duration

	// MaxUtterance ends an utterance once this much audio has been fed.
	// Zero disables the guard.
	MaxUtterance time.Duration

	// Language and Keywords are passed to the recognizer.
	Language string
	Keywords []stt.KeywordBoost

	// HistorySize bounds the per-session rejected transcript history.
	HistorySize int

	// DiscardOnForceEnd drops the final transcript of an utterance closed by
	// [Controller.ForceEnd] instead of filtering and dispatching it.
	DiscardOnForceEnd bool
}

// DefaultControllerConfig returns the defaults for sampleRate.
func DefaultControllerConfig(sampleRate int) ControllerConfig {
	return ControllerConfig{
		SampleRate:    sampleRate,
		FrameDuration: opus.DefaultFrameDuration,
		VAD:           vad.DefaultParams(sampleRate),
		PreRoll:       300 * time.Millisecond,
		EchoWindow:    100 * time.Millisecond,
		StartTimeout:  DefaultStartTimeout,
		EndTimeout:    DefaultEndTimeout,
		MaxUtterance:  30 * time.Second,
		HistorySize:   transcript.DefaultHistorySize,
	}
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.SampleRate == 0 {
		c.SampleRate = audio.Rate16k
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = opus.DefaultFrameDuration
	}
	if c.VAD == (vad.Params{}) {
		c.VAD = vad.DefaultParams(c.SampleRate)
	}
	c.VAD.SampleRate = c.SampleRate
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.EndTimeout <= 0 {
		c.EndTimeout = DefaultEndTimeout
	}
	return c
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the base logger. Session loggers derive from it.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides the wall clock used by echo gates, the speech
// detector's model reset, and the filter's after-bot rule.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDecoderFactory replaces the Opus decoder, e.g. with [PCMDecoders].
func WithDecoderFactory(f DecoderFactory) Option {
	return func(c *Controller) {
		if f != nil {
			c.newDecoder = f
		}
	}
}

// Controller couples speech detection to recognition. One Controller serves
// every session; it holds no per-session state and is safe for concurrent
// use across sessions.
type Controller struct {
	recognizer stt.Provider
	engine     vadmodel.Engine
	sink       dispatch.Sink
	partials   dispatch.PartialSink

	newDecoder DecoderFactory
	now        func() time.Time
	log        *slog.Logger
	metrics    *observe.Metrics

	mu     sync.RWMutex
	cfg    ControllerConfig
	filter *transcript.Filter
}

// NewController returns a Controller. If sink also implements
// [dispatch.PartialSink] it receives partial transcripts as well.
func NewController(cfg ControllerConfig, recognizer stt.Provider, engine vadmodel.Engine, filter *transcript.Filter, sink dispatch.Sink, opts ...Option) *Controller {
	if filter == nil {
		filter = transcript.NewFilter(transcript.FilterConfig{})
	}
	c := &Controller{
		recognizer: recognizer,
		engine:     engine,
		sink:       sink,
		newDecoder: OpusDecoders,
		now:        time.Now,
		log:        slog.Default(),
		cfg:        cfg.withDefaults(),
		filter:     filter,
	}
	if ps, ok := sink.(dispatch.PartialSink); ok {
		c.partials = ps
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Config returns the configuration new sessions are created with.
func (c *Controller) Config() ControllerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SetConfig replaces the configuration for sessions created afterwards.
// Existing sessions keep theirs.
func (c *Controller) SetConfig(cfg ControllerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg.withDefaults()
}

// SetFilter replaces the transcript filter for sessions created afterwards.
func (c *Controller) SetFilter(f *transcript.Filter) {
	if f == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = f
}

func (c *Controller) snapshot() (ControllerConfig, *transcript.Filter) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.filter
}

// NewSession builds the per-connection state: decoder, speech detector with
// freshly reset model state, pre-roll ring, echo gate, and rejected history.
// An empty id is replaced by a random UUID.
func (c *Controller) NewSession(ctx context.Context, id string) (*Session, error) {
	cfg, filter := c.snapshot()
	if id == "" {
		id = uuid.NewString()
	}
	log := observe.SessionLogger(ctx, c.log, id)

	dec, err := c.newDecoder(cfg.SampleRate, cfg.FrameDuration)
	if err != nil {
		return nil, fmt.Errorf("ingest: new decoder: %w", err)
	}
	model, err := c.engine.NewSession(vadmodel.Config{SampleRate: cfg.SampleRate})
	if err != nil {
		_ = dec.Close()
		return nil, fmt.Errorf("ingest: new vad session: %w", err)
	}
	analyzer, err := vad.NewAnalyzer(model, cfg.VAD,
		vad.WithClock(c.now),
		vad.WithLogger(log),
		vad.WithMetrics(c.metrics),
	)
	if err != nil {
		_ = dec.Close()
		_ = model.Close()
		return nil, fmt.Errorf("ingest: new analyzer: %w", err)
	}

	chunk := audio.Samples(cfg.SampleRate, cfg.FrameDuration)
	s := &Session{
		id:          id,
		sampleRate:  cfg.SampleRate,
		cfg:         cfg,
		filter:      filter,
		log:         log,
		decoder:     dec,
		model:       model,
		analyzer:    analyzer,
		preRoll:     NewPreRoll(max(1, PreRollCapacity(cfg.PreRoll, cfg.SampleRate, chunk))),
		echo:        NewEchoGate(cfg.EchoWindow, c.now),
		history:     transcript.NewHistory(cfg.HistorySize),
		lastVoiceAt: c.now(),
	}
	c.metrics.ActiveSessions.Add(ctx, 1)
	log.Debug("ingest session created",
		"sample_rate", cfg.SampleRate,
		"pre_roll_chunks", s.preRoll.Cap(),
		"echo_window", cfg.EchoWindow)
	return s, nil
}

// OnFrame processes one inbound packet. It never returns an error: decode
// failures drop the frame, recognizer failures drop the utterance, and both
// are logged and counted.
func (c *Controller) OnFrame(ctx context.Context, s *Session, packet []byte) {
	if s.closed {
		return
	}
	pcm, err := s.decoder.Decode(packet)
	if err != nil {
		s.stats.Dropped++
		c.metrics.RecordError(ctx, observe.KindDecode)
		s.log.Debug("dropping frame", "err", err, "bytes", len(packet))
		return
	}
	s.stats.Frames++
	s.audioPos += audio.PCMDuration(s.sampleRate, pcm)
	s.preRoll.Push(pcm)

	gated := s.speaking || s.echo.Gated()
	prev := s.analyzer.State()
	res := s.analyzer.Analyze(pcm, gated)
	s.trackLead(prev, res, pcm)
	if res.State != vad.Quiet {
		s.lastVoiceAt = c.now()
	}

	fedWithPreRoll := false
	if res.Onset {
		s.stats.Onsets++
		if s.handle == nil {
			// The current chunk is the newest replayed entry.
			fedWithPreRoll = c.openUtterance(ctx, s)
		}
	}
	if s.handle == nil {
		return
	}

	switch res.State {
	case vad.Starting, vad.Speaking, vad.Stopping:
		if !fedWithPreRoll && !c.feed(ctx, s, pcm) {
			return
		}
	}

	// Silence is counted from the end of the last chunk that held a voiced
	// window, so the hangover never starts before the voice stopped.
	voiced := !gated && res.Windows > 0 && res.Confidence >= s.cfg.VAD.Confidence
	switch res.State {
	case vad.Stopping, vad.Quiet:
		if !s.silenceSet || voiced {
			s.silenceBeganAt = s.audioPos
			s.silenceSet = true
		}
		if res.State == vad.Quiet && s.audioPos-s.silenceBeganAt >= s.cfg.VAD.Stop {
			c.endUtterance(ctx, s, true, "hangover")
			return
		}
	default:
		s.silenceSet = false
	}

	if limit := s.cfg.MaxUtterance; limit > 0 && s.fed >= limit {
		s.log.Info("utterance reached maximum length", "max", limit)
		c.endUtterance(ctx, s, true, "max_utterance")
		// Start over so continued speech opens a fresh utterance.
		s.analyzer.Reset()
	}
}

// ForceEnd closes an open utterance without waiting for the hangover. The
// final transcript is filtered and dispatched unless the session was
// configured with DiscardOnForceEnd. It is a no-op without an open
// utterance, so it may be called repeatedly.
func (c *Controller) ForceEnd(ctx context.Context, s *Session) {
	if s.handle == nil {
		return
	}
	c.metrics.ForceEnds.Add(ctx, 1)
	c.endUtterance(ctx, s, !s.cfg.DiscardOnForceEnd, "force_end")
}

// CloseSession force-ends any open utterance and releases the decoder and the
// model state. It is idempotent.
func (c *Controller) CloseSession(ctx context.Context, s *Session) {
	if s.closed {
		return
	}
	c.ForceEnd(ctx, s)
	s.closed = true
	if err := s.decoder.Close(); err != nil {
		s.log.Debug("closing decoder", "err", err)
	}
	if err := s.model.Close(); err != nil {
		s.log.Debug("closing vad session", "err", err)
	}
	c.metrics.ActiveSessions.Add(ctx, -1)
	st := s.stats
	s.log.Info("ingest session closed",
		"frames", st.Frames,
		"dropped", st.Dropped,
		"utterances", st.Utterances,
		"dispatched", st.Dispatched,
		"rejected", st.Rejected,
		"audio", s.audioPos)
}

// openUtterance starts a recognizer session and replays the pre-roll into it.
// A confirmation that took longer than the pre-roll replays from the pre-roll
// in front of the first voiced chunk instead, so no part of the word is lost.
// It reports whether the replay happened; on failure the session stays
// without a handle until the next onset.
func (c *Controller) openUtterance(ctx context.Context, s *Session) bool {
	h, err := c.start(ctx, s)
	if err != nil {
		return false
	}
	s.handle = h
	s.silenceSet = false
	s.lastPartial = ""
	s.fed = 0
	s.stats.Utterances++
	c.metrics.ActiveUtterances.Add(ctx, 1)

	chunks := s.lead
	if len(chunks) == 0 {
		chunks = s.preRoll.Snapshot()
	}
	s.lead = nil
	var preRoll time.Duration
	for _, ch := range chunks {
		preRoll += audio.PCMDuration(s.sampleRate, ch)
	}
	s.utteranceStart = s.audioPos - preRoll
	s.log.Debug("utterance opened", "pre_roll_chunks", len(chunks), "start", s.utteranceStart)
	for _, ch := range chunks {
		if !c.feed(ctx, s, ch) {
			return false
		}
	}
	return true
}

type startResult struct {
	h   stt.SessionHandle
	err error
}

// start opens a recognizer session under the start timeout. On timeout the
// call is abandoned and a handle that arrives late is closed.
func (c *Controller) start(ctx context.Context, s *Session) (stt.SessionHandle, error) {
	ctx, span := observe.StartSpan(ctx, "ingest.recognizer.start",
		trace.WithAttributes(attribute.String("session_id", s.id)))
	defer span.End()

	startCtx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	cfg := stt.StreamConfig{
		SessionID:  s.id,
		SampleRate: s.sampleRate,
		Channels:   1,
		Language:   s.cfg.Language,
		Keywords:   s.cfg.Keywords,
	}
	began := time.Now()
	ch := make(chan startResult, 1)
	go func() {
		h, err := c.recognizer.StartStream(startCtx, cfg)
		ch <- startResult{h: h, err: err}
	}()

	select {
	case r := <-ch:
		c.metrics.RecognizerStartDuration.Record(ctx, time.Since(began).Seconds())
		if r.err != nil {
			if r.h != nil {
				_ = r.h.Close()
			}
			c.metrics.RecordError(ctx, observe.KindRecognizerStart)
			span.SetStatus(codes.Error, r.err.Error())
			s.log.Warn("recognizer start failed", "err", r.err)
			return nil, r.err
		}
		return r.h, nil

	case <-startCtx.Done():
		go func() {
			if r := <-ch; r.h != nil {
				_ = r.h.Close()
			}
		}()
		err := startCtx.Err()
		if ctx.Err() == nil {
			c.metrics.RecordError(ctx, observe.KindRecognizerStartTimeout)
			s.log.Warn("recognizer start timed out", "timeout", s.cfg.StartTimeout)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ingest: recognizer start: %w", err)
	}
}

// feed sends one chunk to the open recognizer session. On failure the
// utterance is discarded and false is returned.
func (c *Controller) feed(ctx context.Context, s *Session, pcm []byte) bool {
	partial, err := s.handle.Feed(ctx, pcm)
	if err != nil {
		c.metrics.RecordError(ctx, observe.KindRecognizerFeed)
		s.log.Warn("recognizer feed failed, discarding utterance", "err", err)
		_ = s.handle.Close()
		s.clearUtterance()
		c.metrics.ActiveUtterances.Add(ctx, -1)
		return false
	}
	s.fed += audio.PCMDuration(s.sampleRate, pcm)
	if partial != "" {
		s.lastPartial = partial
		if c.partials != nil {
			c.partials.OnPartialTranscript(ctx, s.id, partial)
		}
	}
	return true
}

// endUtterance flushes the open recognizer session and, if dispatch is set,
// filters and dispatches the final transcript. The session's recognizer
// fields are cleared before End is called.
func (c *Controller) endUtterance(ctx context.Context, s *Session, dispatch bool, cause string) {
	h := s.handle
	fed := s.fed
	s.clearUtterance()
	c.metrics.ActiveUtterances.Add(ctx, -1)

	final, err := c.end(ctx, s, h)
	if err != nil {
		return
	}
	c.metrics.Utterances.Add(ctx, 1)
	c.metrics.UtteranceDuration.Record(ctx, fed.Seconds())
	if !dispatch {
		s.log.Debug("discarding final transcript", "cause", cause, "text", final)
		return
	}
	c.deliver(ctx, s, final, fed, cause)
}

// end calls End under the end timeout. On timeout the handle is abandoned
// and closed once End returns.
func (c *Controller) end(ctx context.Context, s *Session, h stt.SessionHandle) (string, error) {
	ctx, span := observe.StartSpan(ctx, "ingest.recognizer.end",
		trace.WithAttributes(attribute.String("session_id", s.id)))
	defer span.End()

	endCtx, cancel := context.WithTimeout(ctx, s.cfg.EndTimeout)
	defer cancel()

	type endResult struct {
		text string
		err  error
	}
	began := time.Now()
	ch := make(chan endResult, 1)
	go func() {
		text, err := h.End(endCtx)
		ch <- endResult{text: text, err: err}
	}()

	select {
	case r := <-ch:
		c.metrics.RecognizerEndDuration.Record(ctx, time.Since(began).Seconds())
		_ = h.Close()
		if r.err != nil {
			c.metrics.RecordError(ctx, observe.KindRecognizerEnd)
			span.SetStatus(codes.Error, r.err.Error())
			s.log.Warn("recognizer end failed, utterance lost", "err", r.err)
			return "", r.err
		}
		return r.text, nil

	case <-endCtx.Done():
		go func() {
			<-ch
			_ = h.Close()
		}()
		c.metrics.RecordError(ctx, observe.KindRecognizerEndTimeout)
		span.SetStatus(codes.Error, "end timeout")
		s.log.Warn("recognizer end timed out, utterance lost", "timeout", s.cfg.EndTimeout)
		return "", fmt.Errorf("ingest: recognizer end: %w", endCtx.Err())
	}
}

// deliver filters final and hands accepted text to the sink.
func (c *Controller) deliver(ctx context.Context, s *Session, final string, fed time.Duration, cause string) {
	text := strings.TrimSpace(final)
	d := s.filter.Apply(ctx, text, s.history, s.filterContext(c.now()))
	if !d.Accept {
		s.stats.Rejected++
		s.log.Info("transcript filtered", "text", text, "reason", d.Reason, "audio", fed)
		return
	}
	s.stats.Dispatched++
	s.log.Info("transcript accepted", "text", text, "audio", fed, "cause", cause)
	if c.sink == nil {
		return
	}
	if err := c.sink.OnFinalTranscript(ctx, s.id, text); err != nil {
		s.log.Warn("dispatch failed", "err", err)
	}
}
