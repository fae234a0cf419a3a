package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/impactlabs/impact-oracle/internal/api"
	"github.com/impactlabs/impact-oracle/internal/chain"
	"github.com/impactlabs/impact-oracle/internal/config"
	"github.com/impactlabs/impact-oracle/internal/inference"
	"github.com/impactlabs/impact-oracle/internal/ratelimit"
	"github.com/impactlabs/impact-oracle/internal/resilience"
	"github.com/impactlabs/impact-oracle/internal/x402"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis (rate limit counters) ───────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Donation resolver (RPC read client) ───────────────────────────────────
	resolver, err := chain.NewResolver(cfg.Chain.RPCURL, cfg.Payment.Network)
	if err != nil {
		log.Fatal("chain resolver init failed", zap.Error(err))
	}

	// ── Resilience policy around the inference provider ───────────────────────
	policy := resilience.New(resilience.Config{
		Name:             "inference-provider",
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		MaxRetries:       2,
		OnStateChange: func(sc resilience.StateChange) {
			log.Warn("circuit state changed",
				zap.String("policy", sc.Name),
				zap.String("from", sc.From.String()),
				zap.String("to", sc.To.String()),
				zap.Int64("at_ms", sc.At.UnixMilli()),
			)
		},
	})

	// ── Inference client ──────────────────────────────────────────────────────
	estimator := inference.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		cfg.Provider.Model,
		cfg.Provider.SigningKey,
		policy,
		log,
	)

	// ── Payment gate ──────────────────────────────────────────────────────────
	facilitator := x402.NewFacilitatorClient(cfg.Payment.FacilitatorURL)
	gate := x402.NewGate(
		x402.GateConfig{
			PayTo:       cfg.Payment.PayTo,
			Network:     cfg.Payment.Network,
			PriceCents:  cfg.Payment.PriceCents,
			Description: "Donation impact report",
		},
		x402.NewCodec(),
		facilitator,
		cfg.Payment.Settle,
		log,
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	handler := api.NewHandler(resolver, estimator, cfg.Provider.SigningKey, log)
	handler.RegisterHealth(r)

	paid := r.Group("/api",
		ratelimit.Middleware(rdb, cfg.Server.RatePerMinute, log),
		gate.Middleware(),
	)
	handler.Register(paid)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("network", cfg.Payment.Network),
			zap.Bool("settle", cfg.Payment.Settle),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
