package main

import (
	"context"
	"fmt"
	"log/slog"

	"phone-agent/internal/agent"
	"phone-agent/internal/ai"
	"phone-agent/internal/audit"
	"phone-agent/internal/auth"
	"phone-agent/internal/calls"
	"phone-agent/internal/config"
	"phone-agent/internal/events"
	"phone-agent/internal/guard"
	"phone-agent/internal/orchestrator"
	"phone-agent/internal/reporting"
	"phone-agent/internal/telephony"
	"phone-agent/pkg/utils"
)

// deps holds everything the routes need. Construction order matters only
// for cleanup, which runs in reverse.
type deps struct {
	store      calls.Store
	audit      *audit.Service
	auth       *auth.Manager
	renderer   telephony.Renderer
	orch       *orchestrator.Orchestrator
	dispatcher *orchestrator.Dispatcher
	controller *orchestrator.Controller
	reports    *reporting.Service

	closers []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (*deps, error) {
	d := &deps{}
	ok := false
	defer func() {
		if !ok {
			d.close()
		}
	}()

	if err := d.openStore(ctx, cfg); err != nil {
		return nil, err
	}

	var (
		locker guard.Locker      = guard.NewMemoryLocker()
		replay guard.ReplayCache = guard.NewMemoryReplayCache()
	)
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.closers = append(d.closers, func() { _ = rdb.Close() })
		locker = guard.NewRedisLocker(rdb, cfg.Guard.CallLockTTL)
		replay = guard.NewRedisReplayCache(rdb)
	} else {
		log.Warn("redis not configured; call locks and dedupe are process-local")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.RabbitURL != "" {
		p, err := events.NewRabbitPublisher(cfg.Events.RabbitURL, cfg.Events.Queue)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		publisher = p
	}
	d.closers = append(d.closers, func() { _ = publisher.Close() })

	reg := ai.DefaultRegistry(ai.Config{
		Provider: cfg.AI.Provider,
		BaseURL:  cfg.AI.BaseURL,
		APIKey:   cfg.AI.APIKey,
		SiteURL:  cfg.App.PublicBaseURL,
		AppName:  cfg.AI.AppName,
	})
	turnModel, err := reg.Get(ctx, cfg.AI.Provider, cfg.AI.Model)
	if err != nil {
		return nil, fmt.Errorf("ai turn model: %w", err)
	}
	summaryModel, err := reg.Get(ctx, cfg.AI.Provider, cfg.AI.SummaryModel)
	if err != nil {
		return nil, fmt.Errorf("ai summary model: %w", err)
	}
	gen, err := agent.NewTurnGenerator(turnModel, cfg.AI.Model, log)
	if err != nil {
		return nil, err
	}
	sum, err := agent.NewSummarizer(summaryModel, cfg.AI.SummaryModel, log)
	if err != nil {
		return nil, err
	}

	voice, err := telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("twilio: %w", err)
	}
	d.renderer = telephony.Renderer{
		PublicBaseURL: cfg.App.PublicBaseURL,
		Voice:         cfg.Twilio.Voice,
		Language:      cfg.Twilio.Language,
	}

	d.orch, err = orchestrator.New(orchestrator.Deps{
		Store:      d.store,
		Generator:  gen,
		Summarizer: sum,
		Locker:     locker,
		Replay:     replay,
		Events:     publisher,
		Logger:     log,
	}, orchestrator.Config{
		TurnTimeout:    cfg.AI.TurnTimeout,
		SummaryTimeout: cfg.AI.SummaryTimeout,
		DedupeWindow:   cfg.Guard.DedupeWindow,
	})
	if err != nil {
		return nil, err
	}
	d.dispatcher, err = orchestrator.NewDispatcher(d.store, voice, d.renderer, orchestrator.DispatcherConfig{
		FromNumber: cfg.Twilio.PhoneNumber,
		RatePerSec: cfg.Dispatch.RatePerSec,
		Burst:      cfg.Dispatch.Burst,
	}, log)
	if err != nil {
		return nil, err
	}
	d.controller, err = orchestrator.NewController(d.store, voice, locker, log)
	if err != nil {
		return nil, err
	}

	d.auth, err = auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, err
	}
	d.reports = reporting.NewService(d.store)

	ok = true
	return d, nil
}

// openStore selects the call store and the audit repository that lives
// next to it.
func (d *deps) openStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Store.Driver {
	case config.StoreDriverSQLite:
		db, err := calls.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			d.closers = append(d.closers, func() { _ = sqlDB.Close() })
		}
		store := calls.NewGormStore(db)
		if err := store.AutoMigrate(); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
		repo := audit.NewGormRepo(db)
		if err := repo.AutoMigrate(); err != nil {
			return fmt.Errorf("sqlite migrate audit: %w", err)
		}
		d.store = store
		d.audit = audit.NewService(repo)
	default:
		pool, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxConns: cfg.DB.MaxConns})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		d.store = calls.NewPostgresStore(pool)
		d.audit = audit.NewService(audit.NewPostgresRepo(pool))
	}
	return nil
}
