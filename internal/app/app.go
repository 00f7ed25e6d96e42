// Package app wires all Parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New wraps the configured providers
// in circuit breakers and builds the chat, search, and voice front ends;
// Run serves the diagnostics endpoints and watches the config file; and
// Shutdown tears everything down in order.
//
// For testing, pass mock providers in [Providers] and inject a metrics sink
// via [WithMetrics].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/search"
)

// ErrNoModes is returned by [New] when neither chat, search, nor voice has
// the providers it needs.
var ErrNoModes = errors.New("app: no mode configured")

// shutdownGrace bounds the diagnostics server shutdown.
const shutdownGrace = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Chat           llm.Provider
	ChatFallback   llm.Provider
	Search         search.Provider
	SearchFallback search.Provider
	Live           live.Provider
	Audio          audio.Platform
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers

	mu  sync.Mutex
	cfg *config.Config

	metrics        *observe.Metrics
	level          *slog.LevelVar
	voiceObserver  func(voice.Snapshot)
	metricsHandler http.Handler
	configPath     string
	watchOpts      []config.WatcherOption

	chatGroup   *resilience.ChatFallback
	searchGroup *resilience.SearchFallback
	chat        *conversation.Service
	search      *conversation.Service
	voice       *voice.Controller
	health      *health.Handler
	server      *http.Server
	watcher     *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithVoiceObserver registers fn to receive voice snapshots. See
// [voice.WithObserver].
func WithVoiceObserver(fn func(voice.Snapshot)) Option {
	return func(a *App) { a.voiceObserver = fn }
}

// WithMetricsHandler replaces the /metrics handler. Defaults to the
// Prometheus default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigFile makes Run poll path and apply changes with
// [App.ApplyConfig].
func WithConfigFile(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configPath = path
		a.watchOpts = opts
	}
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). A mode whose
// providers are missing is left unconfigured; New fails only when no mode
// is usable at all.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
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
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	a.initChat()
	a.initSearch()
	a.initVoice()
	if a.chat == nil && a.search == nil && a.voice == nil {
		return nil, ErrNoModes
	}

	a.initHealth()

	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}

	for _, c := range []any{providers.Live, providers.Audio} {
		if cl, ok := c.(io.Closer); ok {
			a.closers = append(a.closers, cl.Close)
		}
	}

	observe.Logger(ctx).Info("app initialised",
		"chat", a.chat != nil,
		"search", a.search != nil,
		"voice", a.voice != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) fallbackConfig() resilience.FallbackConfig {
	r := a.cfg.Resilience
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  r.MaxFailures,
			ResetTimeout: r.ResetTimeout,
			HalfOpenMax:  r.HalfOpenMax,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
}

// initChat wraps the chat providers in a fallback group.
func (a *App) initChat() {
	p := a.providers
	if p.Chat == nil {
		return
	}
	entries := a.cfg.Providers
	a.chatGroup = resilience.NewChatFallback(p.Chat, label(entries.Chat), a.fallbackConfig())
	if p.ChatFallback != nil {
		a.chatGroup.AddFallback(label(entries.ChatFallback), p.ChatFallback)
	}
	a.chat = conversation.NewChat(a.chatGroup,
		conversation.WithTexts(modeTexts(a.cfg.Chat)),
		conversation.WithHistoryLimit(a.cfg.Chat.HistoryLimit),
		conversation.WithProviderName(entries.Chat.Name),
		conversation.WithMetrics(a.metrics),
	)
}

// initSearch wraps the search providers in a fallback group.
func (a *App) initSearch() {
	p := a.providers
	if p.Search == nil {
		return
	}
	entries := a.cfg.Providers
	a.searchGroup = resilience.NewSearchFallback(p.Search, label(entries.Search), a.fallbackConfig())
	if p.SearchFallback != nil {
		a.searchGroup.AddFallback(label(entries.SearchFallback), p.SearchFallback)
	}
	a.search = conversation.NewSearch(a.searchGroup,
		conversation.WithTexts(modeTexts(a.cfg.Search)),
		conversation.WithProviderName(entries.Search.Name),
		conversation.WithMetrics(a.metrics),
	)
}

// initVoice creates the voice controller when both a live provider and an
// audio platform exist.
func (a *App) initVoice() {
	p := a.providers
	if p.Live == nil || p.Audio == nil {
		return
	}
	opts := []voice.Option{
		voice.WithFrameSize(a.cfg.Voice.FrameSize),
		voice.WithMessages(voiceMessages(a.cfg.Voice.Messages)),
		voice.WithMetrics(a.metrics),
	}
	if a.voiceObserver != nil {
		opts = append(opts, voice.WithObserver(a.voiceObserver))
	}
	a.voice = voice.New(p.Live, p.Audio, sessionConfig(a.cfg), opts...)
	a.closers = append(a.closers, a.voice.Close)
}

func (a *App) initHealth() {
	var checks []health.Checker
	if a.chatGroup != nil {
		checks = append(checks, health.BreakerCheck("chat", a.chatGroup))
	}
	if a.searchGroup != nil {
		checks = append(checks, health.BreakerCheck("search", a.searchGroup))
	}
	if a.voice != nil {
		checks = append(checks, health.VoiceCheck(a.voice))
	}
	a.health = health.New(checks)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
}

func (a *App) initWatcher() error {
	if a.configPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.ApplyConfig, a.watchOpts...)
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Chat returns the chat service, or nil when chat is not configured.
func (a *App) Chat() *conversation.Service { return a.chat }

// Search returns the search service, or nil when search is not configured.
func (a *App) Search() *conversation.Service { return a.search }

// Voice returns the voice controller, or nil when voice is not configured.
func (a *App) Voice() *voice.Controller { return a.voice }

// Config returns the config most recently applied.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Handler returns the diagnostics handler serving /healthz, /readyz, and
// /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the diagnostics endpoints and polls the config file until ctx
// is cancelled. It returns ctx.Err() on a clean stop, or the first error of
// a background task.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			slog.Info("diagnostics server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: diagnostics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running")
	<-gctx.Done()

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyConfig applies the hot-reloadable parts of next. It is the callback
// of the config watcher. Changes to providers, resilience, or the listen
// address are logged and need a restart.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}
	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ChatChanged && a.chat != nil {
		a.chat.SetTexts(modeTexts(next.Chat))
		a.chat.SetHistoryLimit(next.Chat.HistoryLimit)
		slog.Info("chat settings reloaded")
	}
	if d.SearchChanged && a.search != nil {
		a.search.SetTexts(modeTexts(next.Search))
		slog.Info("search settings reloaded")
	}
	if d.VoiceChanged && a.voice != nil {
		a.voice.Reconfigure(sessionConfig(next), next.Voice.FrameSize, voiceMessages(next.Voice.Messages))
		slog.Info("voice settings reloaded, applying to the next session")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// label names a breaker after its provider entry.
func label(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

func modeTexts(m config.ModeConfig) conversation.Texts {
	return conversation.Texts{
		SystemInstruction: m.SystemInstruction,
		Empty:             m.EmptyReply,
		Failure:           m.FailureReply,
	}
}

func voiceMessages(m config.VoiceMessages) voice.Messages {
	return voice.Messages{
		PermissionDenied: m.PermissionDenied,
		ConnectionFailed: m.ConnectionFailed,
		Unsupported:      m.Unsupported,
	}
}

func sessionConfig(cfg *config.Config) live.SessionConfig {
	v := cfg.Voice
	return live.SessionConfig{
		Model:               cfg.Providers.Live.Model,
		Voice:               v.Voice,
		Instructions:        v.Instructions,
		InputTranscription:  v.InputTranscription == nil || *v.InputTranscription,
		OutputTranscription: v.OutputTranscription == nil || *v.OutputTranscription,
	}
}
