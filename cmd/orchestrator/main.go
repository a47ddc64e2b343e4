// Command orchestrator runs the Orchestrator pipeline stage (spec.md
// §4.F): it turns trigger validations into processing tasks.
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
	"github.com/magellium/hrwsi/internal/orchestrator"
	"github.com/magellium/hrwsi/internal/store"
	"github.com/magellium/hrwsi/internal/util/stopper"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("orchestrator", pflag.ContinueOnError)
	cfg, err := config.LoadOrchestratorConfig(flags)
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

	o := &orchestrator.Orchestrator{Store: pool}

	if err := o.Run(ctx); err != nil {
		log.WithError(err).Error("orchestrator stopped with an error")
		return 1
	}
	return 0
}
