package main

import (
	"context"
	"fmt"
	"log"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"wowsync/internal/bnet"
	"wowsync/internal/config"
	"wowsync/internal/discord"
	"wowsync/internal/metrics"
	"wowsync/internal/module"
	"wowsync/internal/storage"
	wsync "wowsync/internal/sync"
	"wowsync/pkg/jobmgr"
)

// app holds what every subcommand that syncs needs.
type app struct {
	cfg      *config.Config
	store    *storage.Storage
	metrics  *metrics.Collector
	registry *prometheus.Registry
	bnet     *bnet.Clients
}

// newApp opens and migrates the database and creates the Battle.net
// clients.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.RequireBnet(); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mc := metrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(mc, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	clients := bnet.New(bnet.Options{
		ClientID:     cfg.BnetClientID,
		ClientSecret: cfg.BnetClientSecret,
		Scope:        cfg.BnetScope,
		RedirectURL:  cfg.BnetRedirectURL,
		OAuthURL:     cfg.BnetOAuthURL,
		APIURL:       cfg.BnetAPIURL,
		NumRetries:   cfg.BnetNumRetries,
		OnRequest:    mc.BnetRequest,
	})

	return &app{cfg: cfg, store: store, metrics: mc, registry: registry, bnet: clients}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*storage.Storage, error) {
	store, err := storage.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// discord creates the bot and the module service with the Discord module
// registered. The gateway is not opened here.
func (a *app) discord() (*discord.Bot, *module.Service, error) {
	if err := a.cfg.RequireDiscord(); err != nil {
		return nil, nil, err
	}
	bot, err := discord.NewBot(a.cfg.DiscordToken, a.store, a.cfg.CommandCacheDir, clock.WallClock)
	if err != nil {
		return nil, nil, err
	}
	service := module.NewService(a.store, a.cfg.RootURL)
	service.Register(storage.RemoteSystemDiscord, discord.NewFactory(bot.API(), a.store, bot))
	return bot, service, nil
}

func (a *app) runner(modules wsync.Modules) *wsync.Runner {
	b2db := wsync.NewBnetToDB(a.store, a.bnet, wsync.BnetToDBConfig{
		KeepNewAccounts: a.cfg.KeepNewAccounts(),
		KeepCharacters:  a.cfg.KeepCharacters(),
	})
	jobs := jobmgr.NewManager(func(msg string) {
		log.Println("[DEBUG] job:", msg)
	})
	return wsync.NewRunner(a.store, b2db, modules, jobs, clock.WallClock, a.metrics)
}
