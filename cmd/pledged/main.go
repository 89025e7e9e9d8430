package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/anthev-stack/communitypledges/pkg/activity"
	"github.com/anthev-stack/communitypledges/pkg/config"
	"github.com/anthev-stack/communitypledges/pkg/db"
	"github.com/anthev-stack/communitypledges/pkg/gateway"
	"github.com/anthev-stack/communitypledges/pkg/id"
	"github.com/anthev-stack/communitypledges/services/withdrawal"
)

type Opts struct {
	ConfigPath string `long:"config" short:"c" default:"config.toml" env:"PLEDGED_CONFIG_PATH"`
	Debug      bool   `long:"debug"`
	NoBanner   bool   `long:"no-banner"`
}

const banner = `
        _          _                _
  _ __ | | ___  __| | __ _  ___  __| |
 | '_ \| |/ _ \/ _' |/ _' |/ _ \/ _' |
 | |_) | |  __/ (_| | (_| |  __/ (_| |
 | .__/|_|\___|\__,_|\__, |\___|\__,_|
 |_|                 |___/
`

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	// Parse args
	opts := Opts{}
	_, err := flags.Parse(&opts)
	if err != nil {
		log.WithError(err).Fatal("failed to parse command line arguments")
	}

	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if !opts.NoBanner {
		log.Info(banner)
	}

	log.WithFields(log.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("running pledged")

	// Load TOML file
	log.Debugf("loading configuration %q", opts.ConfigPath)
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration file")
	}

	storage, err := openStorage(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}

	gw, err := gateway.NewClient(&cfg.Gateway)
	if err != nil {
		log.WithError(err).Fatal("failed to create payment gateway client")
	}

	activityLog, err := activity.New(&cfg.Activity)
	if err != nil {
		log.WithError(err).Fatal("failed to create activity log")
	}

	gen, err := id.NewGen()
	if err != nil {
		log.WithError(err).Fatal("failed to create id generator")
	}

	manager := withdrawal.NewManager(storage, gw, activityLog, gen, cfg.Billing.Workers)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(nil)))

	group.Go(func() error {
		defer func() {
			log.Info("shutting down cron")
			c.Stop()
		}()

		_, err := c.AddFunc(cfg.Billing.Schedule, func() {
			if err := manager.Sweep(ctx); err != nil {
				log.WithError(err).Error("billing sweep failed, will retry on next run")
			}
		})
		if err != nil {
			log.WithError(err).Fatalf("can't create cron task for schedule %q", cfg.Billing.Schedule)
		}

		// Catch up on anything missed while the daemon was down
		if err := manager.Sweep(ctx); err != nil {
			log.WithError(err).Error("initial billing sweep failed")
		}

		c.Start()

		<-ctx.Done()
		return ctx.Err()
	})

	group.Go(func() error {
		defer func() {
			log.Info("closing database")
			if err := storage.Close(); err != nil {
				log.WithError(err).Error("failed to close database")
			}
		}()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			cancel()
			return nil
		}
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.WithError(err).Error("wait error")
	}

	log.Info("gracefully stopped")
}

func openStorage(cfg *config.Config) (db.Storage, error) {
	if cfg.Store.Type == config.StorePostgres {
		return db.NewPostgres(&cfg.Store)
	}

	return db.NewBadger(&cfg.Store)
}
