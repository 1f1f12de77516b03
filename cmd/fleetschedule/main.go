package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/fleetproxy/pkg/fleetapi"
	"github.com/raterudder/fleetproxy/pkg/localapi"
	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/metrics"
	"github.com/raterudder/fleetproxy/pkg/schedule"
	"github.com/raterudder/fleetproxy/pkg/storage"
)

func main() {
	s := storage.Configured()
	fc := fleetapi.Configured()
	lc := localapi.Configured()
	sc := schedule.Configured()
	lflag.Configure()
	log.ConfigureFromLLog()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

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

	gw := lc.NewGateway(client, metrics.Noop(), localapi.WithSiteID(creds.SiteID))
	if err := gw.Connect(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to fleetapi", slog.Any("error", err))
		os.Exit(1)
	}

	sched, err := sc.NewScheduler(gw, s)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load schedule", slog.Any("error", err))
		os.Exit(1)
	}
	if err := sched.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "scheduler failed", slog.Any("error", err))
		os.Exit(1)
	}
}
