// Package queue pairs waiting players into matches. Buckets are keyed by
// mode, stake and club scope; pairing is strictly oldest-first. Concurrent
// pairers coordinate through per-entry locks with a skip discipline: a locked
// candidate is passed over, never waited on, so one slow pairing cannot stall
// the bucket.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tavla-games/gammon-server/internal/config"
	"github.com/tavla-games/gammon-server/internal/engine"
	"github.com/tavla-games/gammon-server/internal/match"
	"github.com/tavla-games/gammon-server/internal/obslog"
	"github.com/tavla-games/gammon-server/internal/push"
	"github.com/tavla-games/gammon-server/pkg/gammondto"
)

// scanLimit bounds how many candidates one pairing attempt inspects.
const scanLimit = 64

// MatchCreator is the seam into the match manager.
type MatchCreator interface {
	Create(ctx context.Context, p match.CreateParams) (*match.Match, error)
}

type Manager struct {
	store    *store
	matches  MatchCreator
	stakes   *config.StakesCatalog
	notifier push.Notifier
	entryTTL time.Duration
}

type ManagerOptions struct {
	Redis    *redis.Client
	Matches  MatchCreator
	Stakes   *config.StakesCatalog
	Notifier push.Notifier
	EntryTTL time.Duration
}

func NewManager(o ManagerOptions) *Manager {
	n := o.Notifier
	if n == nil {
		n = push.Nop{}
	}
	if o.EntryTTL <= 0 {
		o.EntryTTL = 2 * time.Minute
	}
	stakes := o.Stakes
	if stakes == nil {
		stakes, _ = config.LoadStakes("")
	}
	return &Manager{
		store:    &store{rdb: o.Redis},
		matches:  o.Matches,
		stakes:   stakes,
		notifier: n,
		entryTTL: o.EntryTTL,
	}
}

// Join enqueues the user at the given mode and stake, replacing any earlier
// ticket, and immediately tries to pair. Either the created match or the
// queue position comes back, never both.
func (mgr *Manager) Join(ctx context.Context, userID string, mode match.Mode, stake int64, clubScope string) (*gammondto.QueueStatus, *match.Match, error) {
	if userID == "" {
		return nil, nil, gammondto.NewError(gammondto.KindValidation, "missing_user", "user id is required")
	}
	if mode != match.ModeCurrency && mode != match.ModeClub {
		return nil, nil, gammondto.NewError(gammondto.KindValidation, "bad_mode", fmt.Sprintf("unknown mode %q", mode))
	}
	if mode == match.ModeClub && clubScope == "" {
		return nil, nil, gammondto.NewError(gammondto.KindValidation, "missing_club", "club mode requires a club scope")
	}
	if mode == match.ModeCurrency {
		clubScope = ""
	}
	if !mgr.stakes.Allowed(string(mode), stake) {
		return nil, nil, gammondto.NewError(gammondto.KindValidation, "stake_not_offered",
			fmt.Sprintf("%d is not an offered %s stake", stake, mode)).WithMeta("stake", stake)
	}

	// A fresh join supersedes any earlier ticket.
	if err := mgr.Leave(ctx, userID); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	e := &Entry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Mode:      mode,
		Stake:     stake,
		ClubScope: clubScope,
		Status:    EntryWaiting,
		CreatedAt: now,
		ExpiresAt: now.Add(mgr.entryTTL),
	}
	if err := mgr.store.enqueue(ctx, e, mgr.entryTTL); err != nil {
		return nil, nil, fmt.Errorf("enqueue %s: %w", userID, err)
	}
	obslog.L().Info("queue_join",
		zap.String("user", userID),
		zap.String("mode", string(mode)),
		zap.Int64("stake", stake),
	)

	m, _, err := mgr.pair(ctx, e, nil)
	if err != nil {
		return nil, nil, err
	}
	if m != nil {
		return nil, m, nil
	}

	status, err := mgr.status(ctx, e)
	if err != nil {
		return nil, nil, err
	}
	return status, nil, nil
}

// Leave cancels the user's waiting ticket. Idempotent: no ticket is fine.
func (mgr *Manager) Leave(ctx context.Context, userID string) error {
	e, err := mgr.store.currentEntry(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve queue entry for %s: %w", userID, err)
	}
	if e == nil || e.Status != EntryWaiting {
		return nil
	}
	if err := mgr.store.retire(ctx, e, EntryCancelled, ""); err != nil {
		return fmt.Errorf("cancel queue entry %s: %w", e.ID, err)
	}
	obslog.L().Info("queue_leave", zap.String("user", userID), zap.String("entry", e.ID))
	return nil
}

// Status reports the user's current queue position.
func (mgr *Manager) Status(ctx context.Context, userID string) (*gammondto.QueueStatus, error) {
	e, err := mgr.store.currentEntry(ctx, userID)
	if err != nil {
		return nil, err
	}
	if e == nil || e.Status != EntryWaiting {
		return nil, gammondto.NewError(gammondto.KindNotFound, "not_queued", "user is not in the queue")
	}
	return mgr.status(ctx, e)
}

func (mgr *Manager) status(ctx context.Context, e *Entry) (*gammondto.QueueStatus, error) {
	pos, err := mgr.store.position(ctx, e)
	if err != nil {
		return nil, err
	}
	return &gammondto.QueueStatus{
		EntryID:       e.ID,
		Position:      pos,
		EstimatedWait: time.Duration(pos*mgr.stakes.AvgPairingSeconds) * time.Second,
	}, nil
}

// pair scans e's bucket oldest-first for a compatible opponent. Entries in
// the skip set, locked entries, the user's own tickets and expired tickets
// are passed over. On success both tickets retire into the created match and
// the consumed candidate comes back so sweeps can mark it handled.
func (mgr *Manager) pair(ctx context.Context, e *Entry, skip map[string]bool) (*match.Match, *Entry, error) {
	ok, err := mgr.store.tryLock(ctx, e.ID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		// Someone is already pairing this ticket.
		return nil, nil, nil
	}
	defer mgr.store.unlock(ctx, e.ID)

	// Re-read our own ticket under the lock. A sweep or another pairer may
	// have retired it between enqueue and here; pairing the stale copy would
	// put the user into two matches at once.
	cur, err := mgr.store.getEntry(ctx, e.ID)
	if err != nil {
		return nil, nil, err
	}
	if cur == nil || cur.Status != EntryWaiting {
		return nil, nil, nil
	}
	e = cur

	now := time.Now().UTC()
	ids, err := mgr.store.oldestFirst(ctx, e.bucket(), scanLimit)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		if id == e.ID || skip[id] {
			continue
		}
		cand, err := mgr.store.getEntry(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if cand == nil {
			mgr.store.dropFromBucket(ctx, e.bucket(), id)
			continue
		}
		if cand.Status != EntryWaiting || cand.UserID == e.UserID {
			continue
		}
		if cand.expired(now) {
			mgr.expire(ctx, cand)
			continue
		}
		ok, err := mgr.store.tryLock(ctx, cand.ID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		m, err := mgr.createMatch(ctx, cand, e)
		mgr.store.unlock(ctx, cand.ID)
		if err != nil {
			return nil, nil, err
		}
		return m, cand, nil
	}
	return nil, nil, nil
}

// createMatch turns two locked tickets into one ready match. The older
// ticket is first but colors are drawn at random.
func (mgr *Manager) createMatch(ctx context.Context, older, newer *Entry) (*match.Match, error) {
	white, black := older.UserID, newer.UserID
	if engine.RandomColor() == engine.Black {
		white, black = black, white
	}
	m, err := mgr.matches.Create(ctx, match.CreateParams{
		Mode:        older.Mode,
		Stake:       older.Stake,
		ClubScope:   older.ClubScope,
		PlayerWhite: white,
		PlayerBlack: black,
	})
	if err != nil {
		return nil, err
	}
	if err := mgr.store.retire(ctx, older, EntryMatched, m.ID); err != nil {
		return nil, err
	}
	if err := mgr.store.retire(ctx, newer, EntryMatched, m.ID); err != nil {
		return nil, err
	}

	obslog.L().Info("queue_paired",
		zap.String("match_id", m.ID),
		zap.String("white", white),
		zap.String("black", black),
		zap.Int64("stake", m.Stake),
	)
	payload := map[string]any{"match_id": m.ID, "mode": m.Mode, "stake": m.Stake}
	mgr.notifier.Notify(ctx, gammondto.EventMatchFound, payload, gammondto.UserTarget(white))
	mgr.notifier.Notify(ctx, gammondto.EventMatchFound, payload, gammondto.UserTarget(black))
	return m, nil
}

func (mgr *Manager) expire(ctx context.Context, e *Entry) {
	if err := mgr.store.retire(ctx, e, EntryExpired, ""); err != nil {
		obslog.L().Warn("queue_expire_failed", zap.String("entry", e.ID), zap.Error(err))
		return
	}
	mgr.notifier.Notify(ctx, gammondto.EventQueueUpdate,
		map[string]any{"entry_id": e.ID, "status": EntryExpired}, gammondto.UserTarget(e.UserID))
}

// Sweep expires stale tickets and pairs whatever the immediate path missed,
// bucket by bucket, oldest-first. Returns tickets expired and matches made.
func (mgr *Manager) Sweep(ctx context.Context) (expired, paired int, err error) {
	buckets, err := mgr.store.buckets(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list queue buckets: %w", err)
	}
	now := time.Now().UTC()
	for _, bucket := range buckets {
		ids, err := mgr.store.oldestFirst(ctx, bucket, scanLimit)
		if err != nil {
			return expired, paired, err
		}
		done := map[string]bool{}
		for _, id := range ids {
			if done[id] {
				continue
			}
			e, err := mgr.store.getEntry(ctx, id)
			if err != nil {
				return expired, paired, err
			}
			if e == nil {
				mgr.store.dropFromBucket(ctx, bucket, id)
				continue
			}
			if e.Status != EntryWaiting {
				continue
			}
			if e.expired(now) {
				mgr.expire(ctx, e)
				expired++
				continue
			}
			m, mate, err := mgr.pair(ctx, e, done)
			if err != nil {
				obslog.L().Warn("queue_sweep_pair_failed", zap.String("entry", e.ID), zap.Error(err))
				continue
			}
			if m != nil {
				done[id] = true
				done[mate.ID] = true
				paired++
			}
		}
	}
	return expired, paired, nil
}
