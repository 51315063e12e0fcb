package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/resilience"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// Providers holds the model backends the ingest core runs on. Populated by
// [BuildProviders] or injected directly in tests.
type Providers struct {
	Recognizer stt.Provider
	VAD        vad.Engine

	// closers release backend resources (native models, ONNX sessions).
	closers []io.Closer
}

// Close releases every backend that holds resources.
func (p *Providers) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *Providers) track(v any) {
	if c, ok := v.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}
}

// BuildProviders instantiates the VAD engine and the recognizer named in cfg
// from reg. With fallbacks configured the recognizer is a
// [resilience.STTFallback] whose attempts are counted on m.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}

	engine, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad provider %q: %w", cfg.VAD.Provider, err)
	}
	ps.VAD = engine
	ps.track(engine)
	slog.Info("provider created", "kind", "vad", "name", cfg.VAD.Provider)

	rc := cfg.Recognizer
	primary, err := reg.CreateSTT(rc.Provider, rc.Language)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("app: create stt provider %q: %w", rc.Provider.Name, err)
	}
	ps.track(primary)
	slog.Info("provider created", "kind", "stt", "name", rc.Provider.Name, "model", rc.Provider.Model)

	if len(rc.Fallbacks) == 0 {
		ps.Recognizer = primary
		return ps, nil
	}

	if m == nil {
		m = observe.DefaultMetrics()
	}
	fb := resilience.NewSTTFallback(primary, rc.Provider.Name, resilience.FallbackConfig{
		OnAttempt: func(name string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			m.RecordProviderRequest(context.Background(), name, "stt", status)
		},
	})
	for i, entry := range rc.Fallbacks {
		p, err := reg.CreateSTT(entry, rc.Language)
		if err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("app: create stt fallback %d %q: %w", i, entry.Name, err)
		}
		ps.track(p)
		fb.AddFallback(fallbackName(entry, i), p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "fallback")
	}
	ps.Recognizer = fb
	return ps, nil
}

// fallbackName keeps breaker and metric labels unique when the same backend
// appears twice (e.g. with two API keys).
func fallbackName(entry config.ProviderEntry, i int) string {
	return fmt.Sprintf("%s#%d", entry.Name, i+1)
}
