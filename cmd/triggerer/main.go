// Command triggerer runs the Triggerer pipeline stage (spec.md §4.E):
// it evaluates per-product-type rules and creates trigger validations.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	log "github.com/sirupsen/logrus"

	"github.com/magellium/hrwsi/internal/config"
	"github.com/magellium/hrwsi/internal/store"
	"github.com/magellium/hrwsi/internal/triggerer"
	"github.com/magellium/hrwsi/internal/util/stopper"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("triggerer", pflag.ContinueOnError)
	cfg, err := config.LoadTriggererConfig(flags)
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

	t := &triggerer.Triggerer{
		Store:        pool,
		GRDHEvery:    time.Minute,
		L1CEvery:     5 * time.Minute,
		GFSCEvery:    6 * time.Hour,
		WICS1S2Every: 10 * time.Minute,
		ValidOrbits:  map[string]map[int]bool{},
	}

	if err := t.Run(ctx); err != nil {
		log.WithError(err).Error("triggerer stopped with an error")
		return 1
	}
	return 0
}
