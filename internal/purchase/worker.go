package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tavla-games/gammon-server/internal/obslog"
)

// inboxKey is the Redis list webhook receivers push confirmations onto.
const inboxKey = "purchase:inbox"

// InboxMessage is one pending confirmation.
type InboxMessage struct {
	Reference string `json:"reference"`
	Account   string `json:"account"`
}

// Enqueue drops a confirmation request onto the inbox.
func Enqueue(ctx context.Context, rdb *redis.Client, msg InboxMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, inboxKey, raw).Err()
}

// Worker drains the inbox and confirms each purchase. Failed confirmations
// are logged and dropped; the gateway remains the source of truth, so a
// client retry re-enqueues safely.
type Worker struct {
	rdb *redis.Client
	svc *Service
}

func NewWorker(rdb *redis.Client, svc *Service) *Worker {
	return &Worker{rdb: rdb, svc: svc}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		res, err := w.rdb.BLPop(ctx, 5*time.Second, inboxKey).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if err != redis.Nil {
				obslog.L().Warn("purchase_inbox_read_failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}
		// BLPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		var msg InboxMessage
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			obslog.L().Warn("purchase_inbox_bad_message", zap.Error(err))
			continue
		}
		if _, err := w.svc.Confirm(ctx, msg.Reference, msg.Account); err != nil {
			obslog.L().Warn("purchase_confirm_failed",
				zap.String("reference", msg.Reference),
				zap.String("account", msg.Account),
				zap.Error(err),
			)
		}
	}
}
