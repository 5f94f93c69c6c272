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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/brensch/cchess/config"
	"github.com/brensch/cchess/executor/inference"
	"github.com/brensch/cchess/logging"
)

func main() {
	cfg, err := config.Load("oracleserver", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if _, err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Pretty); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	if cfg.Oracle.Kind == "remote" {
		log.Fatal().Msg("oracle server cannot serve a remote oracle")
	}

	oracle, closer, err := cfg.Oracle.Build()
	if err != nil {
		log.Fatal().Err(err).Msg("oracle")
	}
	if closer != nil {
		defer closer.Close()
	}

	handler := inference.NewHandler(oracle)
	handler.MaxBatch = cfg.Search.BatchLimit
	mux := http.NewServeMux()
	mux.Handle("/predict", handler)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	log.Info().Str("addr", cfg.Listen).Str("oracle", cfg.Oracle.Kind).Str("model", cfg.Oracle.ModelPath).Msg("serving oracle")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}
