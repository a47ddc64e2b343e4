// Command launcher runs one Launcher instance for a single scheduler
// resource class ("flavour"), per spec.md §4.G. It renders and submits
// processing-task job specifications and tracks their outcome.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/template"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/pflag"

	log "github.com/sirupsen/logrus"

	"github.com/magellium/hrwsi/internal/auxstore"
	"github.com/magellium/hrwsi/internal/config"
	"github.com/magellium/hrwsi/internal/jobspec"
	"github.com/magellium/hrwsi/internal/launcher"
	"github.com/magellium/hrwsi/internal/scheduler"
	"github.com/magellium/hrwsi/internal/store"
	"github.com/magellium/hrwsi/internal/util/stopper"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("launcher", pflag.ContinueOnError)
	cfg, err := config.LoadLauncherConfig(flags)
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

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.WithError(err).Error("could not load AWS configuration for auxiliary checks")
		return 1
	}

	jobTemplate, err := template.ParseFiles(filepath.Join(cfg.ConfigurationFolderPath, "job.tmpl"))
	if err != nil {
		log.WithError(err).Error("could not parse job template")
		return 1
	}

	renderer := &jobspec.Renderer{
		ConfigurationFolderPath: cfg.ConfigurationFolderPath,
		OutputDir:               filepath.Join(cfg.ConfigurationFolderPath, "tasks"),
		Auxiliaries: auxstore.NewS3Checker(s3.NewFromConfig(awsCfg), map[string]string{
			"CAMS": cfg.CAMSBucket,
			"FMI":  cfg.FMIBucket,
		}),
		JobTemplate:      jobTemplate,
		WorkerScriptPath: filepath.Join(cfg.ConfigurationFolderPath, "wait_script.sh"),
		RegistryToken:    cfg.Common.Vault.Token,
		S3ConfigPaths: [3]string{
			filepath.Join(cfg.ConfigurationFolderPath, "s3_hrwsi.cfg"),
			filepath.Join(cfg.ConfigurationFolderPath, "s3_eodata.cfg"),
			filepath.Join(cfg.ConfigurationFolderPath, "s3_catalogue.cfg"),
		},
	}

	l := &launcher.Launcher{
		Store:         pool,
		Scheduler:     scheduler.NewHTTPClient(cfg.Common.Scheduler.Addr(), cfg.Common.Scheduler.Token, &http.Client{Timeout: 30 * time.Second}),
		Renderer:      renderer,
		Flavour:       cfg.Flavour,
		RedriveEvery:  2 * time.Minute,
		RoutineLookup: pool.TaskDispatchContext,
	}

	if err := l.Run(ctx); err != nil {
		log.WithError(err).Error("launcher stopped with an error")
		return 1
	}
	return 0
}
