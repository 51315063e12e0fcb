// Package app wires the hearken subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the controller, sinks,
// device transport, and HTTP mux; Run serves until the context ends; and
// Shutdown drains device sessions before tearing everything down in order.
//
// For testing, inject sinks and backends via [Providers] and functional
// options. When an option is not provided, New creates real implementations
// from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/dispatch"
	"github.com/MrWong99/hearken/internal/health"
	"github.com/MrWong99/hearken/internal/ingest"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/transcript"
	"github.com/MrWong99/hearken/internal/transcript/postgres"
	"github.com/MrWong99/hearken/internal/transport/ws"
	"github.com/MrWong99/hearken/internal/vad"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// drainTimeout bounds the session drain Run performs when its context ends.
const drainTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	transcriptLog dispatch.Sink
	extraSinks    []dispatch.Sink

	ctrl     *ingest.Controller
	devices  *ws.Server
	health   *health.Handler
	listener net.Listener
	http     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	drainOnce sync.Once
	drainErr  error
	stopOnce  sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the base logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the log level of the handler
// that was built with v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTranscriptLog injects the transcript log instead of connecting to
// transcript_log.postgres_dsn.
func WithTranscriptLog(s dispatch.Sink) Option {
	return func(a *App) { a.transcriptLog = s }
}

// WithSinks adds upstream consumers of accepted transcripts.
func WithSinks(sinks ...dispatch.Sink) Option {
	return func(a *App) { a.extraSinks = append(a.extraSinks, sinks...) }
}

// New creates an App by wiring all subsystems together and binds the
// listener, so [App.Addr] is valid on return.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Recognizer == nil || providers.VAD == nil {
		return nil, errors.New("app: recognizer and vad providers are required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.closers = append(a.closers, providers.Close)

	// ── 1. Transcript log ────────────────────────────────────────────────
	var checkers []health.Checker
	if a.transcriptLog == nil && cfg.TranscriptLog.PostgresDSN != "" {
		tl, err := postgres.New(ctx, cfg.TranscriptLog.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: init transcript log: %w", err)
		}
		a.transcriptLog = tl
		a.closers = append(a.closers, func() error { tl.Close(); return nil })
		checkers = append(checkers, health.Checker{Name: "transcript_log", Check: tl.Ping})
	}

	// ── 2. Upstream sinks ────────────────────────────────────────────────
	upstream := dispatch.Fanout{&dispatch.LogSink{Logger: a.log}}
	if a.transcriptLog != nil {
		upstream = append(upstream, a.transcriptLog)
	}
	upstream = append(upstream, a.extraSinks...)

	// ── 3. Device transport ──────────────────────────────────────────────
	a.devices = ws.NewServer(ws.Config{
		AuthToken:   cfg.Server.AuthToken,
		IdleTimeout: config.Secs(cfg.Server.IdleTimeoutSecs),
	}, ws.WithLogger(a.log), ws.WithDetectSink(upstream))

	// ── 4. Ingest controller ─────────────────────────────────────────────
	// The transport is the last sink so the device hears back only after the
	// transcript was logged and handed upstream.
	sink := append(dispatch.Fanout{}, upstream...)
	sink = append(sink, a.devices)
	a.ctrl = ingest.NewController(ControllerConfig(cfg), providers.Recognizer, providers.VAD,
		a.newFilter(cfg.Filter), sink,
		ingest.WithLogger(a.log),
		ingest.WithMetrics(a.metrics),
	)

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	a.health = health.New(checkers, health.WithSessions(a.devices.Sessions))
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, observe.Middleware(a.metrics)(a.devices.Handler(a.ctrl)))
	mux.Handle("GET /metrics", observe.MetricsHandler())
	a.health.Register(mux)

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		_ = a.closeAll()
		return nil, fmt.Errorf("app: listen %q: %w", cfg.Server.ListenAddr, err)
	}
	a.listener = ln
	a.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	return a, nil
}

// Addr returns the address the server listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Controller returns the ingest controller.
func (a *App) Controller() *ingest.Controller { return a.ctrl }

// Run serves devices and health checks until ctx is done or the server fails. When
// ctx ends, Run drains the device sessions before returning ctx.Err().
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.http.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.http.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		return a.drain(dctx)
	})

	a.log.Info("app running",
		"addr", a.Addr().String(),
		"ws_path", a.cfg.Server.WSPath,
		"tls", a.cfg.Server.TLS != nil)
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// drain stops accepting devices, lets open sessions dispatch their final
// transcripts, and closes the HTTP server. It runs once.
func (a *App) drain(ctx context.Context) error {
	a.drainOnce.Do(func() {
		a.health.SetDraining(true)
		a.log.Info("draining device sessions", "sessions", a.devices.Sessions())
		if err := a.devices.Shutdown(ctx); err != nil {
			a.log.Warn("device sessions did not drain in time", "err", err)
			a.drainErr = err
		}
		if err := a.http.Shutdown(ctx); err != nil {
			a.drainErr = errors.Join(a.drainErr, err)
		}
	})
	return a.drainErr
}

// ApplyConfig is the [config.Watcher] callback. VAD, session, and filter
// changes apply to sessions opened afterwards; live sessions keep theirs.
func (a *App) ApplyConfig(_, next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VADChanged || d.SessionChanged || d.FilterChanged {
		a.ctrl.SetConfig(ControllerConfig(next))
	}
	if d.FilterChanged {
		a.ctrl.SetFilter(a.newFilter(next.Filter))
	}
	if d.VADChanged || d.SessionChanged || d.FilterChanged {
		a.log.Info("config reloaded for new sessions",
			"vad", d.VADChanged, "session", d.SessionChanged, "filter", d.FilterChanged)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// Shutdown drains device sessions if Run has not already done so, then
// tears down the remaining subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		if err := a.drain(ctx); err != nil {
			a.log.Warn("drain error", "err", err)
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func (a *App) newFilter(fc config.FilterConfig) *transcript.Filter {
	return transcript.NewFilter(FilterConfig(fc),
		transcript.WithLogger(a.log),
		transcript.WithMetrics(a.metrics),
	)
}

// ─── Config conversion ───────────────────────────────────────────────────────

// ControllerConfig converts the file config into the per-session controller
// parameters. Negative durations become zero, which disables the feature.
func ControllerConfig(cfg *config.Config) ingest.ControllerConfig {
	v := cfg.VAD
	return ingest.ControllerConfig{
		SampleRate:    v.SampleRate,
		FrameDuration: config.Millis(cfg.Session.FrameDurationMs),
		VAD: vad.Params{
			SampleRate:       v.SampleRate,
			Confidence:       v.Confidence,
			Start:            config.Secs(v.StartSecs),
			Stop:             config.Secs(v.StopSecs),
			MinVolume:        max(0, v.MinVolume),
			ModelResetPeriod: config.Secs(v.ModelResetPeriodSecs),
		},
		PreRoll:      config.Secs(cfg.Session.PreRollSecs),
		EchoWindow:   config.Millis(cfg.Session.EchoWindowMs),
		StartTimeout: config.Secs(cfg.Recognizer.StartTimeoutSecs),
		EndTimeout:   config.Secs(cfg.Recognizer.EndTimeoutSecs),
		MaxUtterance: config.Secs(cfg.Server.MaxUtteranceSecs),
		Language:     cfg.Recognizer.Language,
		Keywords:     keywords(cfg.Recognizer.Keywords),
		HistorySize:  cfg.Filter.HistorySize,

		DiscardOnForceEnd: cfg.Session.DiscardOnForceEnd,
	}
}

func keywords(kc []config.KeywordConfig) []stt.KeywordBoost {
	if len(kc) == 0 {
		return nil
	}
	out := make([]stt.KeywordBoost, len(kc))
	for i, k := range kc {
		out[i] = stt.KeywordBoost{Keyword: k.Keyword, Boost: k.Boost}
	}
	return out
}

// FilterConfig converts the filter section into transcript filter settings.
func FilterConfig(fc config.FilterConfig) transcript.FilterConfig {
	return transcript.FilterConfig{
		Mode:              transcript.Mode(fc.Mode),
		HallucinationSet:  append([]string(nil), fc.HallucinationSet...),
		AlwaysFilter:      append([]string(nil), fc.AlwaysFilter...),
		BotUtteranceDelay: config.Millis(fc.BotUtteranceDelayMs),
		FuzzyThreshold:    fc.FuzzyThreshold,
		MinCharLength:     fc.MinCharLength,
	}
}
