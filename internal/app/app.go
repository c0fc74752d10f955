// Package app wires the talkback subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the providers, the turn
// pipeline, the session manager and the HTTP routes; Run serves until the
// listener is closed; Shutdown drains sessions and stops the listener.
//
// For testing, inject mock providers via functional options (WithProviders,
// WithAdapterFactory). When an option is not provided, New creates real
// implementations from the config and registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/health"
	"github.com/MrWong99/talkback/internal/intent"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/pipeline"
	"github.com/MrWong99/talkback/internal/server"
	"github.com/MrWong99/talkback/internal/session"
	"github.com/MrWong99/talkback/pkg/types"
)

// readHeaderTimeout bounds the request line and headers of every request.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the server.
type App struct {
	cfg *config.Config
	reg *config.Registry
	log *slog.Logger

	providers      *Providers
	newAdapter     session.AdapterFactory
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar

	manager *session.Manager
	health  *health.Handler
	server  *server.Server
	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProviders injects pipeline backends instead of building them from
// the registry.
func WithProviders(p *Providers) Option {
	return func(a *App) { a.providers = p }
}

// WithAdapterFactory injects the per-session chat factory instead of
// building the configured chat backend.
func WithAdapterFactory(f session.AdapterFactory) Option {
	return func(a *App) { a.newAdapter = f }
}

// WithMetrics sets the instruments recorded by the pipeline, the sessions
// and the HTTP middleware, and the handler serving /metrics.
func WithMetrics(m *observe.Metrics, handler http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = handler
	}
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New creates an App. reg may be nil when both WithProviders and
// WithAdapterFactory are given.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Providers ─────────────────────────────────────────────────────
	if a.providers == nil {
		if reg == nil {
			return nil, errors.New("app: no registry to build providers from")
		}
		ps, err := BuildProviders(cfg, reg)
		if err != nil {
			return nil, err
		}
		a.providers = ps
	}
	if a.providers.STT == nil {
		return nil, &types.ConfigError{Component: "app", Field: "providers", Err: errors.New("stt is required")}
	}

	// ── 2. Chat ──────────────────────────────────────────────────────────
	if a.newAdapter == nil {
		if reg == nil {
			return nil, errors.New("app: no registry to build the chat backend from")
		}
		f, err := NewChatFactory(cfg, reg, a.log)
		if err != nil {
			return nil, err
		}
		a.newAdapter = f
	}

	// ── 3. Pipeline + sessions ───────────────────────────────────────────
	pl := a.buildPipeline()
	a.manager = session.NewManager(session.ManagerConfig{
		Pipeline:    pl,
		NewAdapter:  a.newAdapter,
		Intents:     intent.New(),
		MaxSessions: cfg.Server.MaxSessions,
		Metrics:     a.metrics,
		Logger:      a.log,
	})

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)
	a.server = server.New(server.Config{
		Manager:        a.manager,
		Health:         a.health,
		MetricsHandler: a.metricsHandler,
		StaticDir:      cfg.Server.StaticDir,
		OriginPatterns: cfg.Server.AllowedOrigins,
		Metrics:        a.metrics,
		Logger:         a.log,
	})
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	a.closers = []func(context.Context) error{
		func(context.Context) error { a.health.SetDraining(true); return nil },
		a.manager.Shutdown,
		a.httpSrv.Shutdown,
	}
	return a, nil
}

func (a *App) buildPipeline() *pipeline.Pipeline {
	pc := a.cfg.Pipeline
	opts := []pipeline.Option{
		pipeline.WithVoice(types.VoiceProfile{
			ID:          pc.Voice.ID,
			Language:    pc.Voice.Language,
			SpeedFactor: pc.Voice.SpeedFactor,
		}),
		pipeline.WithLanguage(pc.Language),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.log),
	}
	if pc.BackendTimeout > 0 {
		opts = append(opts, pipeline.WithBackendTimeout(pc.BackendTimeout.Std()))
	}
	if a.providers.Image != nil {
		opts = append(opts, pipeline.WithImageProvider(a.providers.Image))
	}
	return pipeline.New(a.providers.STT, a.providers.TTS, opts...)
}

// checkers returns the readiness probes: session capacity, plus the
// circuit state of any backend that reports one.
func (a *App) checkers() []health.Checker {
	limit := a.cfg.Server.MaxSessions
	if limit <= 0 {
		limit = session.DefaultMaxSessions
	}
	cs := []health.Checker{{
		Name: "sessions",
		Check: func(context.Context) error {
			if n := a.manager.Len(); int64(n) >= limit {
				return fmt.Errorf("%d of %d sessions in use", n, limit)
			}
			return nil
		},
	}}
	type checkable interface {
		Check(context.Context) error
	}
	if c, ok := a.providers.STT.(checkable); ok {
		cs = append(cs, health.Checker{Name: "stt", Check: c.Check})
	}
	if c, ok := a.providers.TTS.(checkable); ok {
		cs = append(cs, health.Checker{Name: "tts", Check: c.Check})
	}
	return cs
}

// Handler returns the HTTP routes, for serving from a test server.
func (a *App) Handler() http.Handler { return a.server }

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Run serves HTTP on the configured address until Shutdown is called. It
// returns nil after a clean shutdown.
func (a *App) Run() error {
	a.log.Info("listening", "addr", a.httpSrv.Addr, "tls", a.cfg.Server.TLS != nil)
	var err error
	if tls := a.cfg.Server.TLS; tls != nil {
		err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = a.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: serve: %w", err)
}

// Reload applies a changed config file. The log level changes at once; a
// new chat backend or conversation setting applies to sessions opened
// afterwards. Everything else is only logged. The signature matches
// [config.ChangeFunc].
func (a *App) Reload(old, new *config.Config, diff config.ConfigDiff) {
	if !diff.Changed() {
		return
	}
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(diff.NewLogLevel))
		a.log.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ChatChanged || diff.ConversationChanged {
		if a.reg == nil {
			a.log.Warn("chat settings changed but no registry is available")
		} else if f, err := NewChatFactory(new, a.reg, a.log); err != nil {
			a.log.Error("keeping previous chat backend", "err", err)
		} else {
			a.manager.SetAdapterFactory(f)
			a.log.Info("chat settings reloaded", "chat", new.Providers.Chat.Name)
		}
	}
	if len(diff.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart", "sections", diff.RestartRequired)
	}
}

// Shutdown marks the server as draining, closes every session and stops
// the listener. Closers still run after ctx expires so the listener is
// always released; their errors are joined.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "sessions", a.manager.Len())
		var errs []error
		for _, closer := range a.closers {
			if err := closer(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
		a.log.Info("shutdown complete")
	})
	return a.stopErr
}

// SlogLevel converts a config level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
