package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tavla-games/gammon-server/internal/boardimage"
	appcfg "github.com/tavla-games/gammon-server/internal/config"
	"github.com/tavla-games/gammon-server/internal/ledger"
	"github.com/tavla-games/gammon-server/internal/match"
	"github.com/tavla-games/gammon-server/internal/msgcat"
	"github.com/tavla-games/gammon-server/internal/obslog"
	"github.com/tavla-games/gammon-server/internal/purchase"
	"github.com/tavla-games/gammon-server/internal/push"
	"github.com/tavla-games/gammon-server/internal/queue"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	obslog.InitFromEnv()
	defer obslog.Sync()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		obslog.L().Fatal("redis url invalid", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(rootCtx).Err(); err != nil {
		obslog.L().Fatal("redis unreachable", zap.Error(err))
	}

	db, err := ledger.OpenDB(cfg.DatabaseURL)
	if err != nil {
		obslog.L().Fatal("postgres unreachable", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	ledgerSvc := ledger.NewService(db, cfg.Stakes.DailyBonus)
	if err := ledgerSvc.EnsureSchema(rootCtx); err != nil {
		obslog.L().Fatal("ledger schema", zap.Error(err))
	}
	repo := match.NewRepository(db)
	if err := repo.EnsureSchema(rootCtx); err != nil {
		obslog.L().Fatal("match schema", zap.Error(err))
	}

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		obslog.L().Fatal("message catalog", zap.Error(err))
	}
	notifier := push.New(cfg.PushMode, cfg.PushWSURL, messages)

	matchMgr := match.NewManager(match.ManagerOptions{
		Redis:        rdb,
		Settler:      ledgerSvc,
		Archive:      repo,
		Notifier:     notifier,
		Renderer:     boardimage.NewRenderer(),
		TurnDeadline: cfg.TurnDeadline,
	})
	queueMgr := queue.NewManager(queue.ManagerOptions{
		Redis:    rdb,
		Matches:  matchMgr,
		Stakes:   cfg.Stakes,
		Notifier: notifier,
		EntryTTL: cfg.QueueEntryTTL,
	})

	if cfg.PaymentBaseURL != "" {
		gateway := purchase.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey)
		confirmer := purchase.NewService(gateway, ledgerSvc)
		worker := purchase.NewWorker(rdb, confirmer)
		go worker.Run(rootCtx)
		obslog.L().Info("purchase confirmation enabled", zap.String("gateway", cfg.PaymentBaseURL))
	}

	janitor, err := queue.StartJanitor(queueMgr, matchMgr, cfg.SweepInterval)
	if err != nil {
		obslog.L().Fatal("janitor start", zap.Error(err))
	}
	defer func() { _ = janitor.Shutdown() }()

	obslog.L().Info("gammon server up",
		zap.Duration("turn_deadline", cfg.TurnDeadline),
		zap.Duration("queue_ttl", cfg.QueueEntryTTL),
		zap.Duration("sweep_interval", cfg.SweepInterval),
	)

	<-rootCtx.Done()
	obslog.L().Info("shutting down")
}
