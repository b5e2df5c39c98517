package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/api"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/config"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/leetcode"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/scheduler"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/store"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/telegram"
)

// App owns the process lifecycle: storage, the bot, the scheduler, the
// read API and the maintenance cron.
type App struct {
	cfg config.Config
	log *zap.Logger
	bot *tgbotapi.BotAPI
}

// New validates configuration and connects to Telegram.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	if _, err := domain.ValidateTZ(cfg.DefaultTZ); err != nil {
		return nil, err
	}
	if _, err := domain.NormalizeTimes(cfg.DefaultRemindTimes); err != nil {
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	return &App{cfg: cfg, log: log, bot: bot}, nil
}

// Run wires everything together and blocks until a shutdown signal.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.log.Info("starting leetcode-reminder",
		zap.String("http", a.cfg.HTTPAddr),
		zap.Duration("tick", a.cfg.TickInterval),
	)

	// Durable store first: nothing works without it.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()
	a.log.Info("sqlite ready", zap.String("path", a.cfg.DBPath))

	// Redis is an optional accelerator; refusing to start without it
	// would invert the dual-store contract.
	var cache store.Cache
	if a.cfg.RedisURL != "" {
		rc, err := store.NewRedisCache(ctx, a.cfg.RedisURL, a.cfg.VerifyCacheTTL)
		if err != nil {
			a.log.Warn("redis unavailable, running on durable store only", zap.Error(err))
		} else {
			cache = rc
			a.log.Info("redis cache ready")
		}
	}
	dual := store.NewDual(repo, cache, a.log)
	defer func() {
		if cache != nil {
			_ = cache.Close()
		}
	}()

	verifier := leetcode.NewClient(leetcode.Options{
		Timeout:     a.cfg.LCTimeout,
		RatePerSec:  a.cfg.LCRatePerSec,
		Concurrency: a.cfg.LCConcurrency,
		Backoff: leetcode.BackoffPolicy{
			MaxAttempts: a.cfg.LCMaxAttempts,
			BaseDelay:   a.cfg.LCBaseDelay,
			MaxDelay:    a.cfg.LCMaxDelay,
		},
	}, a.log)

	router := telegram.NewRouter(a.bot, a.log, dual, verifier, telegram.Defaults{
		TZ:          a.cfg.DefaultTZ,
		RemindTimes: a.cfg.DefaultRemindTimes,
	})

	sched := scheduler.New(dual, verifier, router, a.log, scheduler.Config{
		TickInterval: a.cfg.TickInterval,
		TickDeadline: a.cfg.TickDeadline,
		Freshness:    a.cfg.FreshnessWindow,
		Workers:      a.cfg.Workers,
	})
	go sched.Run(ctx)

	httpSrv := &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      api.NewServer(dual, a.log, api.Options{Token: a.cfg.APIToken, RatePerMinute: a.cfg.APIRatePerMin}).Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	cronRunner := a.startMaintenance(ctx, dual)
	defer func() { <-cronRunner.Stop().Done() }()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")

			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := httpSrv.Shutdown(shCtx)
			cancel()
			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}
			a.bot.StopReceivingUpdates()
			return nil

		case upd := <-updCh:
			router.HandleUpdate(ctx, upd)
		}
	}
}

// startMaintenance schedules the nightly prune of old verification rows.
// The daily records are decision state for the current day only; aged rows
// are dead weight.
func (a *App) startMaintenance(ctx context.Context, dual *store.Dual) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc("30 3 * * *", func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.PruneAfterDays).Format(domain.DayFormat)
		pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		n, err := dual.PruneVerifications(pruneCtx, cutoff)
		if err != nil {
			a.log.Error("verification prune failed", zap.Error(err))
			return
		}
		a.log.Info("pruned old verifications", zap.Int64("rows", n), zap.String("before", cutoff))
	})
	if err != nil {
		a.log.Error("registering prune job failed", zap.Error(err))
	}
	c.Start()
	return c
}
