// Command harvester runs the Harvester pipeline stage (spec.md §4.D):
// it periodically discovers new upstream raw items and records them
// exactly once.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	log "github.com/sirupsen/logrus"

	"github.com/magellium/hrwsi/internal/catalog"
	"github.com/magellium/hrwsi/internal/config"
	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/harvester"
	"github.com/magellium/hrwsi/internal/store"
	"github.com/magellium/hrwsi/internal/util/stopper"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("harvester", pflag.ContinueOnError)
	cfg, err := config.LoadHarvesterConfig(flags)
	if err != nil {
		log.WithError(err).Error("configuration error")
		return 1
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := stopper.WithContext(signalCtx)
	go func() {
		<-signalCtx.Done()
		ctx.Stop(30 * time.Second)
	}()

	pool, cleanup, err := store.Open(ctx, cfg.Database.ConnString(), store.WithWaitForStartup())
	if err != nil {
		log.WithError(err).Error("could not open database connection")
		return 1
	}
	defer cleanup()

	h := &harvester.Harvester{
		Store:      pool,
		Catalog:    catalog.NewHTTPClient(cfg.Common.CatalogBaseURL, &http.Client{Timeout: 30 * time.Second}),
		Mode:       cfg.RunMode,
		CycleEvery: 5 * time.Minute,
		PostSleep:  time.Minute,
	}
	if cfg.RunMode.String() == "ARCHIVE" {
		h.ArchiveStart = cfg.Archive.Start
		h.ArchiveEnd = cfg.Archive.End
	}

	if err := h.Run(ctx); err != nil {
		if errs.IsConfigError(err) {
			log.WithError(err).Error("configuration error")
			return 1
		}
		log.WithError(err).Error("harvester stopped with an error")
		return 1
	}
	return 0
}
