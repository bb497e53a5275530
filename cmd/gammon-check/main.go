// gammon-check probes every backing service the game server depends on and
// exits non-zero when any of them is unreachable. Meant for deploy hooks and
// container health checks.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	appcfg "github.com/tavla-games/gammon-server/internal/config"
	"github.com/tavla-games/gammon-server/internal/ledger"
	"github.com/tavla-games/gammon-server/internal/purchase"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := false

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("redis: bad url: %v", err)
		failed = true
	} else {
		rdb := redis.NewClient(redisOpts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("redis: %v", err)
			failed = true
		} else {
			log.Printf("redis: ok")
		}
		_ = rdb.Close()
	}

	db, err := ledger.OpenDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("postgres: %v", err)
		failed = true
	} else {
		log.Printf("postgres: ok")
		_ = db.Close()
	}

	if cfg.PaymentBaseURL == "" {
		log.Printf("payment gateway: not configured, skipping")
	} else {
		gateway := purchase.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey,
			purchase.WithTimeout(5*time.Second), purchase.WithRetry(1))
		if err := gateway.Health(ctx); err != nil {
			log.Printf("payment gateway: %v", err)
			failed = true
		} else {
			log.Printf("payment gateway: ok")
		}
	}

	if failed {
		os.Exit(1)
	}
	log.Printf("all checks passed")
}
