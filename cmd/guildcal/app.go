package main

import (
	"context"
	"fmt"

	"gitea.jw6.us/james/guildcal/internal/auth"
	"gitea.jw6.us/james/guildcal/internal/config"
	"gitea.jw6.us/james/guildcal/internal/discord"
	"gitea.jw6.us/james/guildcal/internal/gcal"
	"gitea.jw6.us/james/guildcal/internal/log"
	"gitea.jw6.us/james/guildcal/internal/reconcile"
	"gitea.jw6.us/james/guildcal/internal/store"
)

// app holds the wired collaborators for one process.
type app struct {
	cfg        *config.Config
	store      *store.Store
	reconciler *reconcile.Reconciler
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log.SetLevel(log.ParseLevel(cfg.LogLevel))

	st, err := store.Open(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.DB.AutoMigrate {
		applied, err := st.Migrate(ctx)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			log.Info("applied migrations", "names", applied)
		}
	}

	source := discord.NewClient(cfg.Discord.APIURL, cfg.Discord.GuildID, cfg.Discord.Token, cfg.HTTPTimeout)
	projector := gcal.NewProjector(gcal.Config{
		CalendarID: cfg.Google.CalendarID,
		TimeZone:   cfg.Timezone,
		Timeout:    cfg.HTTPTimeout,
		Endpoint:   cfg.Google.Endpoint,
	})
	supplier := auth.NewSupplier(st.Accounts, cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.TokenURL, cfg.TokenSkew)

	r := reconcile.New(source, st.Events, projector, supplier, reconcile.WithLocation(cfg.Location()))
	return &app{cfg: cfg, store: st, reconciler: r}, nil
}

func (a *app) Close() {
	a.store.Close()
}
