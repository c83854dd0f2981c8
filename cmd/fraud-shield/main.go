package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stoik/fraud-shield/internal/adapters/cache"
	"github.com/stoik/fraud-shield/internal/adapters/kv"
	"github.com/stoik/fraud-shield/internal/adapters/mx"
	"github.com/stoik/fraud-shield/internal/adapters/storage"
	"github.com/stoik/fraud-shield/internal/adapters/webhook"
	"github.com/stoik/fraud-shield/internal/application"
	"github.com/stoik/fraud-shield/internal/config"
	"github.com/stoik/fraud-shield/internal/domain"
	"github.com/stoik/fraud-shield/internal/metrics"
	"github.com/stoik/fraud-shield/internal/ports"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fraud-shield",
		Short: "Signup fraud scoring service",
	}
	root.AddCommand(newServeCmd(), newEvaluateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Construct the scoring pipeline and block, ready for a driving adapter to call Evaluate",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Deployment config (KV/Postgres/webhook addresses, TTLs) comes
			// from the environment or an optional config file, not from
			// serve's own CLI flags — those are reserved for request-shaped
			// input like evaluate's --email.
			cfg, err := config.New(nil)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)

			evaluator, closer, err := buildEvaluator(cfg, log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("build evaluator: %w", err)
			}
			defer closer()

			log.Info().Msg("fraud-shield pipeline constructed, blocking until signaled")
			_ = evaluator // a driving HTTP/gRPC adapter would hold this and call Evaluate per request

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			log.Info().Msg("shutting down")
			return nil
		},
	}
}

func newEvaluateCmd() *cobra.Command {
	var email, consumer, flow string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a single email against the current artifact snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(nil)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)

			evaluator, closer, err := buildEvaluator(cfg, log, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("build evaluator: %w", err)
			}
			defer closer()

			result, err := evaluator.Evaluate(cmd.Context(), domain.Request{
				Email:    email,
				Consumer: consumer,
				Flow:     flow,
			})
			if err != nil {
				return fmt.Errorf("evaluate: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address to evaluate")
	cmd.Flags().StringVar(&consumer, "consumer", "", "Consumer tag for cohort attribution")
	cmd.Flags().StringVar(&flow, "flow", "", "Flow tag for cohort attribution")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// buildEvaluator wires every adapter named in the DOMAIN STACK: Redis-backed
// artifact KV, checksum-verified ArtifactCache, DoH MX resolver, Postgres
// recorder, and webhook alerter. The returned closer releases the Postgres
// pool and Redis client.
func buildEvaluator(cfg *config.Config, log zerolog.Logger, reg prometheus.Registerer) (*application.Evaluator, func(), error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := kv.New(redisClient, log)
	artifacts := cache.New(store, log)

	m := metrics.New(reg)
	artifacts.OnStale(func(kind cache.Kind, err error) {
		m.IncKVFetchFailed(string(kind))
		log.Warn().Err(err).Str("kind", string(kind)).Msg("kv_fetch_failed")
	})

	resolver := mx.New(log,
		mx.WithTimeout(cfg.MXTimeout),
		mx.WithCacheTTL(cfg.MXCacheTTL),
		mx.WithCacheCapacity(cfg.MXCacheCapacity),
	)

	var recorder *storage.PostgresStore
	if cfg.PostgresDSN != "" {
		var err error
		recorder, err = storage.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := recorder.InitSchema(); err != nil {
			return nil, nil, fmt.Errorf("init schema: %w", err)
		}
	}

	alerter := webhook.New(cfg.WebhookURL, log)

	// Pass a genuinely nil ports.Recorder (not a non-nil interface wrapping a
	// nil *storage.PostgresStore) when persistence isn't configured.
	var recorderPort ports.Recorder
	if recorder != nil {
		recorderPort = recorder
	}

	evaluator := application.New(artifacts, resolver, recorderPort, alerter, log, m)

	closer := func() {
		if recorder != nil {
			_ = recorder.Close()
		}
		_ = redisClient.Close()
	}
	return evaluator, closer, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()
}
