// Command thoughtsync runs the local sync engine and its HTTP API: it opens
// the SQLite state database, dials the relay pool, starts the event consumer,
// and serves the REST/SSE surface until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thoughtsync/thoughtsync/internal/client"
	"github.com/thoughtsync/thoughtsync/internal/config"
	httpapi "github.com/thoughtsync/thoughtsync/internal/http"
	"github.com/thoughtsync/thoughtsync/internal/observability"
	"github.com/thoughtsync/thoughtsync/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	cl, err := client.Open(&cfg)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("engine open failed")
	}
	defer cl.Close()

	if err := cl.Start(ctx); err != nil {
		// Load problems are survivable: the engine starts over defaults.
		log.Warn().Err(err).Msg("state load was partial")
	}

	autoConnect := sysutil.IsTruthy(sysutil.FirstNonEmpty(os.Getenv("CONNECT_ON_START"), "true"))
	if autoConnect {
		if err := cl.Connect(); err != nil {
			log.Warn().Err(err).Msg("initial connect failed; staying offline")
		}
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, cl, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// No write deadline: the /events SSE stream stays open indefinitely.
		WriteTimeout:   0,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
