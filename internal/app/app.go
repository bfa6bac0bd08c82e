// Package app wires all jarvis subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// Providers are passed in already constructed (main.go builds them through
// the config registry), so tests inject mocks directly.
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

	"github.com/MrWong99/jarvis/internal/action"
	"github.com/MrWong99/jarvis/internal/api"
	"github.com/MrWong99/jarvis/internal/assistant"
	"github.com/MrWong99/jarvis/internal/bridge"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/resilience"
	"github.com/MrWong99/jarvis/internal/speech"
	"github.com/MrWong99/jarvis/internal/voicecmd"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

// shutdownTimeout bounds the graceful HTTP shutdown in Run.
const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM          llm.Provider
	LLMSecondary llm.Provider
	STT          stt.Provider
	TTS          tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar
	listener  net.Listener

	tracker   *action.Tracker
	router    *voicecmd.Router
	llm       *resilience.LLMFallback
	responder *assistant.Responder
	hub       *bridge.Hub
	health    *health.Handler
	handler   http.Handler

	mu sync.Mutex // guards cfg after New

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithListener makes Run serve on ln instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.tracker = action.NewTracker(
		action.WithHistoryLimit(cfg.Actions.HistoryLimit),
		action.WithMetrics(a.metrics),
	)
	a.router = voicecmd.New(a.tracker)

	a.initAssistant()
	if err := a.initBridge(); err != nil {
		return nil, fmt.Errorf("app: init bridge: %w", err)
	}
	a.initHTTP()

	return a, nil
}

func (a *App) initAssistant() {
	p := a.providers
	if p.LLM == nil {
		slog.Warn("app: no LLM provider, chat commands are disabled")
		return
	}

	primary := a.cfg.Providers.LLM.Name
	if primary == "" {
		primary = "primary"
	}
	a.llm = resilience.NewLLMFallback(p.LLM, primary, resilience.FallbackConfig{})

	var secondary string
	if p.LLMSecondary != nil {
		secondary = a.cfg.Providers.LLMSecondary.Name
		if secondary == "" || secondary == primary {
			secondary = "secondary"
		}
		a.llm.AddFallback(secondary, p.LLMSecondary)
	}

	ac := a.cfg.Assistant
	opts := []assistant.Option{assistant.WithMetrics(a.metrics)}
	if p.TTS != nil {
		opts = append(opts, assistant.WithTTS(p.TTS))
	}
	a.responder = assistant.New(a.llm, a.tracker, assistant.Config{
		SystemPrompt:      ac.SystemPrompt,
		SecondaryName:     secondary,
		SecondaryTriggers: ac.SecondaryTriggers,
		Speak:             ac.Speak && p.TTS != nil,
		Voice:             tts.Voice{ID: ac.VoiceID, Provider: a.cfg.Providers.TTS.Name},
		MaxTokens:         ac.MaxTokens,
	}, opts...)
	slog.Info("app: assistant ready", "backends", a.llm.Names())
}

func (a *App) initBridge() error {
	if a.cfg.Voice.Recognizer == config.RecognizerServer && a.providers.STT == nil {
		return errors.New("voice.recognizer \"server\" needs an STT provider")
	}

	opts := []bridge.Option{bridge.WithMetrics(a.metrics)}
	if a.responder != nil {
		opts = append(opts, bridge.WithReplier(a.responder))
	}
	if a.providers.STT != nil {
		opts = append(opts, bridge.WithSTT(a.providers.STT, a.cfg.Providers.STT.Name))
	}
	a.hub = bridge.NewHub(a.tracker, a.router, BridgeConfig(a.cfg), opts...)
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})
	return nil
}

func (a *App) initHTTP() {
	a.health = health.New()
	if a.llm != nil {
		a.health.Add(health.Checker{Name: "llm", Check: a.checkLLM})
	}

	mux := http.NewServeMux()
	a.hub.Register(mux)
	api.New(a.tracker).Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	a.handler = observe.Middleware(a.metrics)(mux)
}

// checkLLM fails when every LLM backend has an open circuit.
func (a *App) checkLLM(context.Context) error {
	for _, name := range a.llm.Names() {
		if b := a.llm.Breaker(name); b == nil || b.State() != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("all llm backends have open circuits")
}

// BridgeConfig maps the voice and server sections of cfg to the settings
// the websocket hub applies to new connections.
func BridgeConfig(cfg *config.Config) bridge.Config {
	v := cfg.Voice
	return bridge.Config{
		Language:   v.Language,
		Recognizer: string(v.Recognizer),
		Speech: speech.Config{
			CaptureTimeout:       v.CaptureTimeout,
			CommandGrace:         v.CommandGrace,
			RestartDelay:         v.RestartDelay,
			ErrorRestartDelay:    v.ErrorRestartDelay,
			MaxConsecutiveErrors: v.MaxConsecutiveErrors,
		},
		WakePhrases:     v.WakePhrases,
		PhoneticWake:    v.PhoneticWake,
		HistoryMessages: cfg.Assistant.HistoryMessages,
		OriginPatterns:  cfg.Server.AllowedOrigins,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Tracker returns the process-wide action tracker.
func (a *App) Tracker() *action.Tracker { return a.tracker }

// Hub returns the websocket hub.
func (a *App) Hub() *bridge.Hub { return a.hub }

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// Websocket clients are disconnected before the HTTP server drains. A
// cancelled ctx is a clean exit and returns nil.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", cfg.Server.ListenAddr, err)
		}
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app: listening", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Hijacked websocket connections are not tracked by Shutdown.
		a.hub.Close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// the log level immediately, voice and origin settings to dashboards that
// connect afterwards. Changes that need a restart are logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged || d.OriginsChanged {
		a.hub.SetConfig(BridgeConfig(new))
		slog.Info("app: voice settings updated for new connections")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: configuration changes require a restart", "settings", d.RestartRequired)
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
