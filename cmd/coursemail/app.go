package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"coursemail-engine/internal/config"
	"coursemail-engine/internal/events"
	"coursemail-engine/internal/extract"
	"coursemail-engine/internal/mailclient"
	"coursemail-engine/internal/materialize"
	"coursemail-engine/internal/secrets"
	"coursemail-engine/internal/store"
	"coursemail-engine/internal/watcher"
)

// app is everything one account's commands need, wired from config.
type app struct {
	cfg         config.Config
	cfgVal      *atomic.Value
	userCfgPath string
	log         *slog.Logger

	db      *store.DB
	client  *mailclient.Client
	creds   *secrets.KeyringSource
	hub     *events.Hub
	watcher *watcher.Watcher
}

type options struct {
	dataDir       string
	defaultConfig string
}

func loadConfig(opts options) (config.Config, string, error) {
	dataDir := opts.dataDir
	if dataDir == "" {
		dataDir = config.DataDirFromEnv()
	}
	if dataDir == "" {
		dataDir = "."
	}

	userCfgPath, err := config.EnsureUserConfig(dataDir, opts.defaultConfig)
	if err != nil {
		return config.Config{}, "", fmt.Errorf("config bootstrap failed: %w", err)
	}
	cfg, err := config.Load(userCfgPath)
	if err != nil {
		return config.Config{}, "", fmt.Errorf("config load failed (%s): %w", userCfgPath, err)
	}
	cfg.ApplyEnv(nil)
	// The directory the config was found in wins over what the file says.
	cfg.App.DataDir = dataDir
	return cfg, userCfgPath, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
}

func newApp(ctx context.Context, opts options) (*app, error) {
	cfg, userCfgPath, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	cfg, vr := config.NormalizeAndValidate(cfg)
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	for _, w := range vr.Warnings {
		logger.Warn("config", "warning", w)
	}
	if !vr.OK() {
		return nil, vr
	}

	db, err := store.Open(ctx, cfg.DBPath())
	if err != nil {
		return nil, err
	}
	if cfg.Account.Username != "" {
		if err := db.UpsertAccount(ctx, store.Account{
			ID:       cfg.Account.ID,
			Username: cfg.Account.Username,
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
		}); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	client := mailclient.New(mailclient.Options{
		LoginDomain:        cfg.Account.LoginDomain,
		Mailbox:            cfg.Mail.Mailbox,
		DialTimeout:        cfg.MailTimeout(),
		SessionTimeout:     cfg.SessionTimeout(),
		InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
		Logger:             logger,
	})
	creds := secrets.NewKeyringSource(db)
	hub := events.NewHub()

	mat := materialize.New(materialize.Deps{
		Store: db,
		Rules: materialize.NewRules(filterRules(cfg.Rules)),
		Extract: extract.New(
			extract.WithKeywords(cfg.Extract.CourseKeywords),
			extract.WithLocation(cfg.Location()),
		),
		Logger: logger,
	})

	w := watcher.New(cfg.WatchConfig(), watcher.Deps{
		Transport:   watcher.IMAP{Client: client},
		Credentials: creds,
		Processor:   mat,
		Hub:         hub,
		Logger:      logger,
		FetchLimit:  cfg.Mail.FetchLimit,
	})

	var cfgVal atomic.Value
	cfgVal.Store(cfg)

	return &app{
		cfg:         cfg,
		cfgVal:      &cfgVal,
		userCfgPath: userCfgPath,
		log:         logger,
		db:          db,
		client:      client,
		creds:       creds,
		hub:         hub,
		watcher:     w,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("close database", "error", err)
	}
}

// filterRules maps the config table onto the materializer's. An empty
// table means the built-in NCCU rules.
func filterRules(in []config.Rule) []materialize.Rule {
	if len(in) == 0 {
		return materialize.DefaultRules()
	}
	out := make([]materialize.Rule, 0, len(in))
	for _, r := range in {
		out = append(out, materialize.Rule{
			Keyword:     r.Keyword,
			Category:    r.Category,
			Priority:    r.Priority,
			Description: r.Description,
			Active:      !r.Disabled,
		})
	}
	return out
}
