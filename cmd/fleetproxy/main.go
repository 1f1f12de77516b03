package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/raterudder/fleetproxy/pkg/fleetapi"
	"github.com/raterudder/fleetproxy/pkg/localapi"
	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/metrics"
	"github.com/raterudder/fleetproxy/pkg/server"
	"github.com/raterudder/fleetproxy/pkg/storage"
)

func main() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// init packages
	s := storage.Configured()
	fc := fleetapi.Configured()
	lc := localapi.Configured()

	srv := server.Configured(s, reg)

	// parse flags
	lflag.Configure()
	log.ConfigureFromLLog()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	creds, err := s.GetCredentials(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load credentials, run setup first", slog.Any("error", err))
		os.Exit(1)
	}
	client, err := fc.NewClient(ctx, creds, storage.TokenSaver(s))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create fleetapi client", slog.Any("error", err))
		os.Exit(1)
	}
	m, err := metrics.NewPrometheusCollector(reg)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	gw := lc.NewGateway(client, m, localapi.WithSiteID(creds.SiteID))
	if err := gw.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to fleetapi", slog.Any("error", err))
		os.Exit(1)
	}

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx, gw); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
