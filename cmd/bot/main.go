package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apperrors "github.com/questbridge/bot/pkg/app/errors"
	"github.com/questbridge/bot/pkg/app/httpserver"
	"github.com/questbridge/bot/pkg/backend"
	"github.com/questbridge/bot/pkg/config"
	"github.com/questbridge/bot/pkg/engine"
	"github.com/questbridge/bot/pkg/entity"
	"github.com/questbridge/bot/pkg/entry"
	"github.com/questbridge/bot/pkg/gateway"
	"github.com/questbridge/bot/pkg/kv"
	"github.com/questbridge/bot/pkg/reconcile"
	"github.com/questbridge/bot/pkg/store"
	"github.com/questbridge/bot/pkg/verify"
	"github.com/questbridge/bot/pkg/webhook"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting interactive-post engine")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize document store
	st, err := store.Connect(ctx, cfg.Mongo, logger)
	if err != nil {
		logger.Fatal("Failed to connect to document store", zap.Error(err))
	}
	defer st.Close(context.Background())
	if err := st.EnsureIndexes(ctx); err != nil {
		logger.Fatal("Failed to ensure indexes", zap.Error(err))
	}
	logger.Info("Document store ready")

	// Initialize key-value store
	cache, err := kv.New(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to key-value store", zap.Error(err))
	}
	defer cache.Close()
	logger.Info("Key-value store ready")

	// Initialize backend client
	be := backend.NewClient(cfg.Backend, logger)

	// Initialize chat session and gateway
	session, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		logger.Fatal("Failed to create chat session", zap.Error(err))
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	gw := gateway.New(session, logger)

	// Build the verifier registry
	registry := verify.NewRegistry()
	registry.Register(entity.ReqGuildMembership, verify.NewGuildVerifier(gw))
	registry.Register(entity.ReqChannelMembership, verify.NewChannelVerifier(gw))
	registry.Register(entity.ReqExternalFollow, verify.NewRemoteVerifier(be))
	registry.Register(entity.ReqCustom, verify.NewCustomVerifier(be))

	// Start reconciler first so the pipeline and engine can request refreshes
	reconciler := reconcile.New(cfg.Reconciler, st, be, gw, logger)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	pipeline := entry.New(st, cache, be, registry, reconciler.RequestRefresh, entry.Options{
		Budget:          cfg.Entry.Budget,
		RateLimitMax:    cfg.Entry.RateLimitMax,
		RateLimitWindow: cfg.Entry.RateLimitWindow,
		LockTTL:         cfg.Entry.LockTTL,
		LinkURL:         cfg.Discord.LinkBaseURL,
	}, logger)

	eng := engine.New(st, be, gw, pipeline, registry, cache, reconciler.RequestRefresh, cfg.Discord.LinkBaseURL, logger)

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		eng.RouteInteraction(ctx, i.Interaction)
	})
	if err := session.Open(); err != nil {
		logger.Fatal("Failed to open chat session", zap.Error(err))
	}
	defer session.Close()
	logger.Info("Chat session established")

	// Setup HTTP server for webhooks, admin API and metrics
	hooks := webhook.NewHandler(cfg.Discord.SigningSecret, reconciler, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness tracks the initial reconcile sweep
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !reconciler.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	if cfg.Server.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled")
	}

	r.Post("/webhooks/entity", hooks.HandleEntityEvent)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/bindings", handleBind(eng, logger))
		r.Delete("/bindings", handleUnbind(eng, logger))
		r.Get("/bindings/stats", handleStats(be, logger))
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("HTTP server listening", zap.String("address", serverAddr))
	if err := httpserver.ServeAndWait(ctx, logger, server, cfg.Shutdown.Timeout); err != nil {
		logger.Error("HTTP server error", zap.Error(err))
	}

	logger.Info("Interactive-post engine stopped")
}

type bindRequest struct {
	Kind      entity.Kind `json:"kind"`
	EntityID  string      `json:"entityId"`
	GuildID   string      `json:"guildId"`
	ChannelID string      `json:"channelId"`
	Operator  string      `json:"operator,omitempty"`
}

func handleBind(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bindRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		if req.EntityID == "" || req.GuildID == "" || req.ChannelID == "" {
			http.Error(w, "entityId, guildId and channelId are required", http.StatusBadRequest)
			return
		}
		if req.Kind == "" {
			req.Kind = entity.KindTask
		}

		conn, err := eng.Bind(r.Context(), req.Kind, req.EntityID, req.GuildID, req.ChannelID, req.Operator)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(conn)
	}
}

func handleStats(be *backend.Client, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityID := r.URL.Query().Get("entityId")
		if entityID == "" {
			http.Error(w, "entityId is required", http.StatusBadRequest)
			return
		}
		stats, err := be.GetAnalytics(r.Context(), entityID)
		if errors.Is(err, backend.ErrNotFound) {
			http.Error(w, "entity not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Failed to fetch analytics", zap.Error(err))
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleUnbind(eng *engine.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityID := r.URL.Query().Get("entityId")
		guildID := r.URL.Query().Get("guildId")
		if entityID == "" || guildID == "" {
			http.Error(w, "entityId and guildId are required", http.StatusBadRequest)
			return
		}
		if err := eng.Unbind(r.Context(), guildID, entityID); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var svcErr *apperrors.ServiceError
	if !errors.As(err, &svcErr) {
		logger.Error("Unhandled error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if svcErr.Category == apperrors.CategoryInternal {
		logger.Error("Internal error", zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcErr.StatusCode())
	json.NewEncoder(w).Encode(map[string]any{
		"error":    svcErr.Message,
		"category": svcErr.Category.String(),
	})
}
