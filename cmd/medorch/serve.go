package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/MedOrch/internal/adapter/alert"
	"github.com/Strob0t/MedOrch/internal/adapter/discord"
	medhttp "github.com/Strob0t/MedOrch/internal/adapter/http"
	medmcp "github.com/Strob0t/MedOrch/internal/adapter/mcp"
	mednats "github.com/Strob0t/MedOrch/internal/adapter/nats"
	"github.com/Strob0t/MedOrch/internal/adapter/natskv"
	medotel "github.com/Strob0t/MedOrch/internal/adapter/otel"
	"github.com/Strob0t/MedOrch/internal/adapter/phrasewatch"
	medprom "github.com/Strob0t/MedOrch/internal/adapter/prometheus"
	"github.com/Strob0t/MedOrch/internal/adapter/ristretto"
	"github.com/Strob0t/MedOrch/internal/adapter/slack"
	"github.com/Strob0t/MedOrch/internal/adapter/tiered"
	"github.com/Strob0t/MedOrch/internal/adapter/ws"
	"github.com/Strob0t/MedOrch/internal/config"
	"github.com/Strob0t/MedOrch/internal/domain/memory"
	"github.com/Strob0t/MedOrch/internal/middleware"
	"github.com/Strob0t/MedOrch/internal/port/broadcast"
	"github.com/Strob0t/MedOrch/internal/port/cache"
	"github.com/Strob0t/MedOrch/internal/port/notifier"
	"github.com/Strob0t/MedOrch/internal/service"
)

const (
	shutdownTimeout = 10 * time.Second
	eventQueueSize  = 256
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath)
		},
	}
}

// server bundles what the HTTP handler tree needs beyond the core pipeline.
type server struct {
	core     *core
	sessions *service.Sessions
	hub      *ws.Hub
	limiter  *middleware.RateLimiter
	store    cache.Cache // idempotency replay store
	events   *broadcast.Queue
}

func runServe(ctx context.Context, configPath string) error {
	c, err := loadCore(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		c.Close(closeCtx)
	}()
	cfg := c.cfg

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"nats", cfg.NATS.URL != "",
		"mcp", cfg.MCP.Enabled,
	)

	// --- Infrastructure ---

	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
	defer hub.Close()

	broadcasters := broadcast.Fanout{hub}
	if alerter := newAlerter(cfg.Alerts); alerter.Len() > 0 {
		defer alerter.Wait()
		broadcasters = append(broadcasters, alerter)
		slog.Info("alerts enabled", "notifiers", alerter.Len())
	}

	var store cache.Cache
	if c.routeCache != nil {
		store = c.routeCache
	}

	if cfg.NATS.URL != "" {
		queue, err := mednats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Drain() }()
		audit := mednats.NewAuditPublisher(queue)
		defer audit.Wait()
		broadcasters = append(broadcasters, audit)

		if cfg.Cache.Shared && c.routeCache != nil {
			kv, err := queue.KeyValue(ctx, cfg.Cache.SharedBucket, cfg.Cache.TTL)
			if err != nil {
				return fmt.Errorf("nats kv: %w", err)
			}
			store = tiered.New(c.routeCache, natskv.New(kv), cfg.Cache.TTL)
			c.router.SetCache(store, cfg.Cache.TTL)
			slog.Info("shared routing cache enabled", "bucket", cfg.Cache.SharedBucket)
		}
	}

	if store == nil {
		local, err := ristretto.New(cfg.Cache.MaxCostBytes)
		if err != nil {
			return fmt.Errorf("idempotency store: %w", err)
		}
		defer local.Close()
		store = local
	}

	// --- Services ---

	// Subscribers run behind a queue so no client or broker sits on the
	// orchestration path. Closed before the alerter and publisher are waited on.
	events := broadcast.NewQueue(broadcasters, eventQueueSize)
	defer events.Close()

	deps := c.deps
	deps.Broadcaster = events
	s := &server{
		core:     c,
		sessions: service.NewSessions(deps, cfg.Sessions),
		hub:      hub,
		limiter:  middleware.NewRateLimiter(cfg.Rate),
		store:    store,
		events:   events,
	}
	if c.triage != nil {
		c.triage.SetBroadcaster(events)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.limiter.Run(gctx)
		return nil
	})
	if c.triage != nil {
		g.Go(func() error {
			c.triage.Run(gctx)
			return nil
		})
	}

	if cfg.Safety.Watch && cfg.Safety.PhrasesFile != "" {
		w, err := phrasewatch.New(cfg.Safety.PhrasesFile, reloadPhrases(c.screener))
		if err != nil {
			return fmt.Errorf("phrase watcher: %w", err)
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	// --- HTTP Server ---

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// handler builds the full route tree.
func (s *server) handler() http.Handler {
	cfg := s.core.cfg

	r := chi.NewRouter()
	r.Use(medhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(medhttp.Logger)
	r.Use(medhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(medotel.HTTPMiddleware(cfg.Logging.Service))

	h := &medhttp.Handlers{
		Sessions:  s.sessions,
		Executor:  s.core.executor,
		Screener:  s.core.screener,
		Triage:    s.core.triage,
		BodyLimit: cfg.Server.BodyLimit,
		Version:   Version,
	}
	r.Group(func(api chi.Router) {
		api.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		medhttp.MountRoutes(api, h, s.limiter.Handler, middleware.Idempotency(s.store, cfg.Server.IdempotencyTTL))
	})

	r.Get("/ws", s.hub.HandleWS)
	r.Method(http.MethodGet, "/metrics", medprom.Handler(medprom.NewRegistry(medprom.NewCollector(s.metricSources()))))

	if cfg.MCP.Enabled {
		m := medmcp.NewServer(
			medmcp.ServerConfig{Name: "medorch", Version: Version, Path: cfg.MCP.Path},
			medmcp.ServerDeps{Sessions: s.sessions},
		)
		r.With(s.limiter.Handler).Handle(m.Path(), m.Handler())
		slog.Info("mcp endpoint mounted", "path", m.Path())
	}
	return r
}

func (s *server) metricSources() medprom.Sources {
	src := medprom.Sources{
		AuditStats:  func() memory.Stats { return s.sessions.Default().Memory().Stats() },
		Sessions:    s.sessions.Len,
		Connections: s.hub.ConnectionCount,
		Breakers:    s.core.breakers,
	}
	if s.events != nil {
		src.EventsDropped = s.events.Dropped
	}
	if t := s.core.triage; t != nil {
		src.TriageSessions = t.Len
	}
	if rc := s.core.routeCache; rc != nil {
		src.CacheStats = func() (uint64, uint64) {
			st := rc.Stats()
			return st.Hits, st.Misses
		}
	}
	return src
}

// newAlerter builds the alerter from the configured webhooks.
func newAlerter(cfg config.Alerts) *alert.Alerter {
	var ns []notifier.Notifier
	if cfg.SlackWebhook != "" {
		ns = append(ns, slack.NewNotifier(cfg.SlackWebhook))
	}
	if cfg.DiscordWebhook != "" {
		ns = append(ns, discord.NewNotifier(cfg.DiscordWebhook))
	}
	return alert.New(cfg.Timeout, ns...)
}

// reloadPhrases swaps the screener's list when the phrases file changes.
// A file that fails to load keeps the previous list.
func reloadPhrases(screener *service.SafetyScreener) phrasewatch.ReloadFunc {
	return func(path string) error {
		phrases, err := service.LoadPhrasesFile(path)
		if err != nil {
			return err
		}
		screener.SetPhrases(phrases)
		slog.Info("safety phrases reloaded", "path", path, "phrases", len(screener.Phrases()))
		return nil
	}
}

// originPatterns turns the CORS origin into a websocket origin pattern.
func originPatterns(origin string) []string {
	if origin == "" || origin == "*" {
		return []string{"*"}
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return []string{origin}
	}
	return []string{u.Host}
}
