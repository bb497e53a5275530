package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tavla-games/gammon-server/internal/match"
)

// EntryStatus is the lifecycle of one queue ticket.
type EntryStatus string

const (
	EntryWaiting   EntryStatus = "waiting"
	EntryMatched   EntryStatus = "matched"
	EntryCancelled EntryStatus = "cancelled"
	EntryExpired   EntryStatus = "expired"
)

// Entry is one user waiting for an opponent at a specific mode and stake.
type Entry struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Mode      match.Mode  `json:"mode"`
	Stake     int64       `json:"stake"`
	ClubScope string      `json:"club_scope,omitempty"`
	Status    EntryStatus `json:"status"`
	MatchID   string      `json:"match_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (e *Entry) bucket() string {
	return bucketKey(e.Mode, e.Stake, e.ClubScope)
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Pair locks are short-lived: long enough to create a match, short enough
// that a crashed pairer frees its candidates quickly.
const lockTTL = 10 * time.Second

// bucketsKey is a SET of every bucket ever joined, so the sweeper can find
// them without scanning the keyspace.
const bucketsKey = "queue:buckets"

func entryKey(id string) string { return "queue:entry:" + id }

func queueUserKey(userID string) string { return "queue:user:" + userID }

func lockKey(entryID string) string { return "queue:lock:" + entryID }

func bucketKey(mode match.Mode, stake int64, scope string) string {
	return fmt.Sprintf("queue:bucket:%s:%d:%s", mode, stake, scope)
}

// store wraps the Redis layout for queue entries.
type store struct {
	rdb *redis.Client
}

func (s *store) putEntry(ctx context.Context, e *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, entryKey(e.ID), raw, ttl).Err()
}

func (s *store) getEntry(ctx context.Context, id string) (*Entry, error) {
	raw, err := s.rdb.Get(ctx, entryKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode queue entry %s: %w", id, err)
	}
	return &e, nil
}

// enqueue stores the entry and lists it in its bucket and the user pointer.
func (s *store) enqueue(ctx context.Context, e *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, entryKey(e.ID), raw, ttl+time.Minute)
	pipe.ZAdd(ctx, e.bucket(), redis.Z{Score: float64(e.CreatedAt.UnixMilli()), Member: e.ID})
	pipe.Set(ctx, queueUserKey(e.UserID), e.ID, ttl+time.Minute)
	pipe.SAdd(ctx, bucketsKey, e.bucket())
	_, err = pipe.Exec(ctx)
	return err
}

// retire marks an entry terminal and drops it from the bucket and pointer.
// The terminal record itself lingers briefly for status queries.
func (s *store) retire(ctx context.Context, e *Entry, status EntryStatus, matchID string) error {
	e.Status = status
	e.MatchID = matchID
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, entryKey(e.ID), raw, 5*time.Minute)
	pipe.ZRem(ctx, e.bucket(), e.ID)
	pipe.Del(ctx, queueUserKey(e.UserID))
	_, err = pipe.Exec(ctx)
	return err
}

// oldestFirst returns up to limit entry ids of a bucket in arrival order.
func (s *store) oldestFirst(ctx context.Context, bucket string, limit int64) ([]string, error) {
	return s.rdb.ZRange(ctx, bucket, 0, limit-1).Result()
}

func (s *store) position(ctx context.Context, e *Entry) (int, error) {
	rank, err := s.rdb.ZRank(ctx, e.bucket(), e.ID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(rank) + 1, nil
}

func (s *store) currentEntry(ctx context.Context, userID string) (*Entry, error) {
	id, err := s.rdb.Get(ctx, queueUserKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.getEntry(ctx, id)
}

// tryLock takes the pair lock for an entry. False means somebody else is
// pairing it right now; the caller skips it, never waits.
func (s *store) tryLock(ctx context.Context, entryID string) (bool, error) {
	return s.rdb.SetNX(ctx, lockKey(entryID), "1", lockTTL).Result()
}

func (s *store) unlock(ctx context.Context, entryID string) {
	_ = s.rdb.Del(ctx, lockKey(entryID)).Err()
}

func (s *store) buckets(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, bucketsKey).Result()
}

// dropFromBucket removes a dangling id whose entry blob is gone.
func (s *store) dropFromBucket(ctx context.Context, bucket, id string) {
	_ = s.rdb.ZRem(ctx, bucket, id).Err()
}
