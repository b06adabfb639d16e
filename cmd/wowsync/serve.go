package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wowsync/datastore"
	"wowsync/internal/authstate"
	"wowsync/internal/discord"
	"wowsync/internal/logging"
	v "wowsync/internal/version"
	"wowsync/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Discord bot, the web server and the sync loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	log.Printf("[INFO] Starting %s %s...", v.AppName, v.Version)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	bot, service, err := a.discord()
	if err != nil {
		return err
	}
	defer service.Close()
	runner := a.runner(service)

	dsCfg := datastore.DefaultConfig(cfg.SessionPath)
	dsCfg.Logger = logging.New("[datastore] ")
	ds, err := datastore.New(dsCfg)
	if err != nil {
		return err
	}
	defer ds.Close()

	srv := web.New(web.Config{
		Addr:      cfg.HTTPAddr,
		RootURL:   cfg.RootURL,
		CronToken: cfg.CronToken,
		Style:     cfg.Style,
	}, a.store, a.bnet, authstate.New(ds, authstate.DefaultTTL), runner, a.registry)

	if err := service.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx, service, discord.Commands(a.store, service, runner))
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return runner.Loop(gctx, cfg.SyncInterval)
	})
	err = g.Wait()

	jobs := runner.Jobs()
	for _, name := range jobs.List() {
		log.Printf("[INFO] Stopping job %s", name)
		jobs.Stop(name) //nolint:errcheck
	}
	jobs.Wait()

	if err != nil {
		return err
	}
	log.Printf("[INFO] %s exited cleanly", v.AppName)
	return nil
}
