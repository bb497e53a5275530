// Package match owns the lifecycle of a staked game from creation to
// settlement. All transitions on one match serialize through a Redis WATCH
// on its key: a concurrent writer fails the transaction and surfaces as a
// conflict instead of a lost update.
package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tavla-games/gammon-server/internal/engine"
	"github.com/tavla-games/gammon-server/internal/ledger"
	"github.com/tavla-games/gammon-server/internal/obslog"
	"github.com/tavla-games/gammon-server/internal/push"
	"github.com/tavla-games/gammon-server/pkg/gammondto"
)

// Settler is the ledger seam. Settlement runs after the terminal transition
// commits in Redis; the ledger enforces its own atomicity.
type Settler interface {
	SettleMatch(ctx context.Context, p ledger.SettleMatchParams) (*ledger.Settlement, error)
}

// Archive persists terminal matches and player stats to durable storage.
type Archive interface {
	SaveTerminal(ctx context.Context, m *Match) error
	RecordResult(ctx context.Context, m *Match) error
}

type Manager struct {
	rdb          *redis.Client
	settler      Settler
	archive      Archive
	notifier     push.Notifier
	renderer     BoardRenderer
	turnDeadline time.Duration
}

type ManagerOptions struct {
	Redis        *redis.Client
	Settler      Settler
	Archive      Archive
	Notifier     push.Notifier
	Renderer     BoardRenderer
	TurnDeadline time.Duration
}

func NewManager(o ManagerOptions) *Manager {
	n := o.Notifier
	if n == nil {
		n = push.Nop{}
	}
	if o.TurnDeadline <= 0 {
		o.TurnDeadline = time.Minute
	}
	return &Manager{
		rdb:          o.Redis,
		settler:      o.Settler,
		archive:      o.Archive,
		notifier:     n,
		renderer:     o.Renderer,
		turnDeadline: o.TurnDeadline,
	}
}

// Create opens a match. Both seats filled means status ready; an open black
// seat leaves it waiting for a Join.
func (mgr *Manager) Create(ctx context.Context, p CreateParams) (*Match, error) {
	if p.PlayerWhite == "" {
		return nil, gammondto.NewError(gammondto.KindValidation, "missing_player", "white seat is required")
	}
	if p.PlayerWhite == p.PlayerBlack {
		return nil, gammondto.NewError(gammondto.KindValidation, "same_player", "a player cannot take both seats")
	}
	if p.Mode != ModeCurrency && p.Mode != ModeClub {
		return nil, gammondto.NewError(gammondto.KindValidation, "bad_mode", fmt.Sprintf("unknown mode %q", p.Mode))
	}
	if p.Stake <= 0 {
		return nil, gammondto.NewError(gammondto.KindValidation, "bad_stake", "stake must be positive")
	}

	now := time.Now().UTC()
	m := &Match{
		ID:          uuid.NewString(),
		Mode:        p.Mode,
		Stake:       p.Stake,
		ClubScope:   p.ClubScope,
		PlayerWhite: p.PlayerWhite,
		PlayerBlack: p.PlayerBlack,
		Status:      StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.PlayerBlack != "" {
		m.Status = StatusReady
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	pipe := mgr.rdb.TxPipeline()
	pipe.Set(ctx, liveKey(m.ID), raw, liveTTL)
	pipe.Set(ctx, userKey(m.PlayerWhite), m.ID, liveTTL)
	if m.PlayerBlack != "" {
		pipe.Set(ctx, userKey(m.PlayerBlack), m.ID, liveTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store match %s: %w", m.ID, err)
	}

	obslog.L().Info("match_create",
		zap.String("match_id", m.ID),
		zap.String("mode", string(m.Mode)),
		zap.Int64("stake", m.Stake),
		zap.String("status", string(m.Status)),
	)
	return m, nil
}

// Get returns the live match or a not_found rejection.
func (mgr *Manager) Get(ctx context.Context, id string) (*Match, error) {
	raw, err := mgr.rdb.Get(ctx, liveKey(id)).Bytes()
	if err == redis.Nil {
		return nil, gammondto.NewError(gammondto.KindNotFound, "match_not_found", fmt.Sprintf("no live match %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", id, err)
	}
	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode match %s: %w", id, err)
	}
	return &m, nil
}

// ActiveForUser resolves the user pointer to their current live match.
func (mgr *Manager) ActiveForUser(ctx context.Context, userID string) (*Match, error) {
	id, err := mgr.rdb.Get(ctx, userKey(userID)).Result()
	if err == redis.Nil {
		return nil, gammondto.NewError(gammondto.KindNotFound, "no_active_match", "user has no live match")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve match for %s: %w", userID, err)
	}
	return mgr.Get(ctx, id)
}

// update runs one guarded transition: load under WATCH, mutate through fn,
// write back in a MULTI. A concurrent write aborts the whole transition and
// comes back as a conflict the caller may retry.
func (mgr *Manager) update(ctx context.Context, id string, fn func(cur *Match) error) (*Match, error) {
	key := liveKey(id)
	var out *Match
	err := mgr.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return gammondto.NewError(gammondto.KindNotFound, "match_not_found", fmt.Sprintf("no live match %s", id))
		}
		if err != nil {
			return err
		}
		var cur Match
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode match %s: %w", id, err)
		}
		if err := fn(&cur); err != nil {
			return err
		}
		cur.UpdatedAt = time.Now().UTC()

		newRaw, err := json.Marshal(&cur)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, liveTTL)
		if cur.Status.Terminal() {
			pipe.ZRem(ctx, deadlineKey, cur.ID)
			pipe.Del(ctx, userKey(cur.PlayerWhite))
			if cur.PlayerBlack != "" {
				pipe.Del(ctx, userKey(cur.PlayerBlack))
			}
		} else if cur.TurnDeadline != nil {
			pipe.ZAdd(ctx, deadlineKey, redis.Z{Score: float64(cur.TurnDeadline.Unix()), Member: cur.ID})
			pipe.Set(ctx, userKey(cur.PlayerWhite), cur.ID, liveTTL)
			if cur.PlayerBlack != "" {
				pipe.Set(ctx, userKey(cur.PlayerBlack), cur.ID, liveTTL)
			}
		} else if cur.PlayerBlack != "" {
			pipe.Set(ctx, userKey(cur.PlayerBlack), cur.ID, liveTTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = &cur
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, gammondto.NewError(gammondto.KindConflict, "concurrent_update",
				"match changed while applying the command, retry")
		}
		return nil, err
	}
	return out, nil
}

// Join fills the open black seat of a waiting match.
func (mgr *Manager) Join(ctx context.Context, id, userID string) (*Match, error) {
	m, err := mgr.update(ctx, id, func(cur *Match) error {
		if cur.Status != StatusWaiting {
			return gammondto.NewError(gammondto.KindConflict, "seat_taken",
				fmt.Sprintf("match is %s, not open for joining", cur.Status))
		}
		if userID == "" || userID == cur.PlayerWhite {
			return gammondto.NewError(gammondto.KindValidation, "same_player", "cannot join own match")
		}
		cur.PlayerBlack = userID
		cur.Status = StatusReady
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("match_join", zap.String("match_id", m.ID), zap.String("user", userID))
	return m, nil
}

// SetReady marks a seat ready. The second ready starts the game: first turn
// drawn at random, opening dice rolled, deadline armed.
func (mgr *Manager) SetReady(ctx context.Context, id, userID string) (*Match, error) {
	m, err := mgr.update(ctx, id, func(cur *Match) error {
		if cur.Status != StatusWaiting && cur.Status != StatusReady {
			return gammondto.NewError(gammondto.KindValidation, "bad_status",
				fmt.Sprintf("cannot ready a %s match", cur.Status))
		}
		switch cur.ColorOf(userID) {
		case engine.White:
			cur.WhiteReady = true
		case engine.Black:
			cur.BlackReady = true
		default:
			return gammondto.NewError(gammondto.KindForbidden, "not_participant", "user is not seated in this match")
		}
		if cur.WhiteReady && cur.BlackReady {
			st := engine.NewGame(engine.RandomColor())
			st.Dice = engine.RollDice()
			cur.State = &st
			cur.Status = StatusInProgress
			mgr.armDeadline(cur)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.Status == StatusInProgress {
		obslog.L().Info("match_start",
			zap.String("match_id", m.ID),
			zap.String("first_turn", string(m.State.Turn)),
		)
		mgr.notifier.Notify(ctx, gammondto.EventMatchStarted, mgr.ToSnapshot(ctx, m), gammondto.MatchTarget(m.ID))
	}
	return m, nil
}

// RollDice rolls for the turn owner. Rejected while unused dice remain; a
// roll with zero legal moves passes the turn immediately.
func (mgr *Manager) RollDice(ctx context.Context, id, userID string) (*Match, error) {
	m, err := mgr.update(ctx, id, func(cur *Match) error {
		if err := requireTurn(cur, userID); err != nil {
			return err
		}
		if cur.State.UnusedDice() > 0 {
			return gammondto.NewError(gammondto.KindValidation, "dice_already_rolled",
				"unused dice remain, play them first")
		}
		cur.State.Dice = engine.RollDice()
		if len(engine.LegalMoves(*cur.State)) == 0 {
			passTurn(cur.State)
		}
		mgr.armDeadline(cur)
		return nil
	})
	if err != nil {
		return nil, err
	}
	mgr.notifier.Notify(ctx, gammondto.EventDiceRolled, mgr.ToSnapshot(ctx, m), gammondto.MatchTarget(m.ID))
	return m, nil
}

// SubmitMoves applies a move batch for the turn owner. Each move revalidates
// against the current legal set; the first illegal one aborts the whole batch
// with no state change. Bearing off the last checker completes the match and
// triggers settlement.
func (mgr *Manager) SubmitMoves(ctx context.Context, id, userID string, input []gammondto.MoveInput) (*Match, error) {
	if len(input) == 0 {
		return nil, gammondto.NewError(gammondto.KindValidation, "empty_batch", "at least one move is required")
	}
	moves := movesFromInput(input)

	m, err := mgr.update(ctx, id, func(cur *Match) error {
		if err := requireTurn(cur, userID); err != nil {
			return err
		}
		if cur.State.UnusedDice() == 0 {
			return gammondto.NewError(gammondto.KindValidation, "no_dice", "roll before moving")
		}

		st := *cur.State
		for i, mv := range moves {
			next, err := engine.Apply(st, mv)
			if err != nil {
				return gammondto.NewError(gammondto.KindValidation, "illegal_move", err.Error()).
					WithMeta("index", i).WithMeta("from", mv.From).WithMeta("to", mv.To)
			}
			st = next
		}
		cur.State = &st

		if engine.GameOver(st) {
			res, err := engine.Result(st)
			if err != nil {
				return err
			}
			return mgr.complete(cur, res)
		}
		if st.UnusedDice() == 0 || len(engine.LegalMoves(st)) == 0 {
			passTurn(cur.State)
		}
		mgr.armDeadline(cur)
		return nil
	})
	if err != nil {
		return nil, err
	}

	mgr.notifier.Notify(ctx, gammondto.EventMoveMade, mgr.ToSnapshot(ctx, m), gammondto.MatchTarget(m.ID))
	if m.Status == StatusCompleted {
		if err := mgr.finalize(ctx, m, false); err != nil {
			return m, err
		}
	}
	return m, nil
}

// Forfeit concedes the match; the opponent wins at the current cube value
// with no gammon multiplier.
func (mgr *Manager) Forfeit(ctx context.Context, id, userID string) (*Match, error) {
	m, err := mgr.update(ctx, id, func(cur *Match) error {
		if cur.Status != StatusInProgress {
			return gammondto.NewError(gammondto.KindValidation, "bad_status",
				fmt.Sprintf("cannot forfeit a %s match", cur.Status))
		}
		if cur.ColorOf(userID) == "" {
			return gammondto.NewError(gammondto.KindForbidden, "not_participant", "user is not seated in this match")
		}
		return mgr.concede(cur, userID)
	})
	if err != nil {
		return nil, err
	}
	if err := mgr.finalize(ctx, m, true); err != nil {
		return m, err
	}
	return m, nil
}

// Abandon cancels a match that never started. No stakes move.
func (mgr *Manager) Abandon(ctx context.Context, id string) (*Match, error) {
	m, err := mgr.update(ctx, id, func(cur *Match) error {
		if cur.Status != StatusWaiting && cur.Status != StatusReady {
			return gammondto.NewError(gammondto.KindValidation, "bad_status",
				fmt.Sprintf("cannot abandon a %s match", cur.Status))
		}
		cur.Status = StatusAbandoned
		now := time.Now().UTC()
		cur.CompletedAt = &now
		cur.TurnDeadline = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mgr.archive != nil {
		if err := mgr.archive.SaveTerminal(ctx, m); err != nil {
			obslog.L().Error("match_archive_failed", zap.String("match_id", m.ID), zap.Error(err))
		}
	}
	mgr.notifier.Notify(ctx, gammondto.EventMatchAbandoned, mgr.ToSnapshot(ctx, m), gammondto.MatchTarget(m.ID))
	return m, nil
}

// SweepDeadlines forfeits the turn owner of every match whose deadline has
// passed. Returns how many matches it closed.
func (mgr *Manager) SweepDeadlines(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	ids, err := mgr.rdb.ZRangeByScore(ctx, deadlineKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan deadlines: %w", err)
	}

	closed := 0
	for _, id := range ids {
		m, err := mgr.expireTurn(ctx, id, now)
		if err != nil {
			if gammondto.IsKind(err, gammondto.KindNotFound) {
				mgr.rdb.ZRem(ctx, deadlineKey, id)
				continue
			}
			// Conflict means the player acted in the window; the refreshed
			// deadline re-enters the sweep naturally.
			if !gammondto.IsKind(err, gammondto.KindConflict) {
				obslog.L().Warn("deadline_expire_failed", zap.String("match_id", id), zap.Error(err))
			}
			continue
		}
		if err := mgr.finalize(ctx, m, true); err != nil {
			obslog.L().Error("deadline_finalize_failed", zap.String("match_id", id), zap.Error(err))
		}
		closed++
	}
	return closed, nil
}

func (mgr *Manager) expireTurn(ctx context.Context, id string, now time.Time) (*Match, error) {
	return mgr.update(ctx, id, func(cur *Match) error {
		if cur.Status != StatusInProgress || cur.TurnDeadline == nil || now.Before(*cur.TurnDeadline) {
			return gammondto.NewError(gammondto.KindConflict, "deadline_not_expired", "match no longer past deadline")
		}
		offender := cur.PlayerFor(cur.State.Turn)
		return mgr.concede(cur, offender)
	})
}

// concede marks cur completed with userID as the losing side. Forfeits settle
// at the plain cube value.
func (mgr *Manager) concede(cur *Match, userID string) error {
	winner := cur.Opponent(userID)
	if winner == "" {
		return gammondto.NewError(gammondto.KindInvariant, "missing_opponent",
			fmt.Sprintf("match %s has no opponent to award", cur.ID))
	}
	cur.Status = StatusCompleted
	cur.ForfeitedBy = userID
	cur.Winner = winner
	cur.WinType = engine.WinNormal
	cur.FinalCube = cur.State.Cube.Value
	cur.Payout = cur.Stake * int64(cur.FinalCube)
	now := time.Now().UTC()
	cur.CompletedAt = &now
	cur.TurnDeadline = nil
	return nil
}

// complete marks cur completed from an engine result.
func (mgr *Manager) complete(cur *Match, res engine.GameResult) error {
	winner := cur.PlayerFor(res.Winner)
	if winner == "" || cur.Opponent(winner) == "" {
		return gammondto.NewError(gammondto.KindInvariant, "missing_participant",
			fmt.Sprintf("match %s reached completion without two participants", cur.ID))
	}
	cur.Status = StatusCompleted
	cur.Winner = winner
	cur.WinType = res.WinType
	cur.FinalCube = cur.State.Cube.Value
	cur.Payout = cur.Stake * int64(cur.FinalCube) * int64(res.Multiplier)
	now := time.Now().UTC()
	cur.CompletedAt = &now
	cur.TurnDeadline = nil
	return nil
}

// finalize runs the post-commit side of a completed match: ledger settlement,
// durable archive, stats, completion push. On settlement failure the match id
// lands in the retry ZSET and the janitor re-runs finalize; settlement is
// idempotent per match id so the stake can never move twice.
func (mgr *Manager) finalize(ctx context.Context, m *Match, forfeit bool) error {
	if err := mgr.settle(ctx, m, forfeit); err != nil {
		obslog.L().Error("match_settle_failed", zap.String("match_id", m.ID), zap.Error(err))
		if rerr := mgr.rdb.ZAdd(ctx, settleRetryKey, redis.Z{
			Score:  float64(time.Now().UTC().UnixMilli()),
			Member: m.ID,
		}).Err(); rerr != nil {
			obslog.L().Error("match_settle_retry_enqueue_failed", zap.String("match_id", m.ID), zap.Error(rerr))
		}
		return err
	}
	if mgr.archive != nil {
		if err := mgr.archive.SaveTerminal(ctx, m); err != nil {
			obslog.L().Error("match_archive_failed", zap.String("match_id", m.ID), zap.Error(err))
		}
		if err := mgr.archive.RecordResult(ctx, m); err != nil {
			obslog.L().Error("match_stats_failed", zap.String("match_id", m.ID), zap.Error(err))
		}
	}
	mgr.notifier.Notify(ctx, gammondto.EventMatchCompleted, mgr.ToSnapshot(ctx, m), gammondto.MatchTarget(m.ID))
	return nil
}

// settle runs the stake transfer for a terminal match.
func (mgr *Manager) settle(ctx context.Context, m *Match, forfeit bool) error {
	if mgr.settler == nil {
		return nil
	}
	loser := m.Opponent(m.Winner)
	bal := ledger.BalanceCurrency
	if m.Mode == ModeClub {
		bal = ledger.BalanceClub
	}
	settled, err := mgr.settler.SettleMatch(ctx, ledger.SettleMatchParams{
		MatchID: m.ID,
		Winner:  m.Winner,
		Loser:   loser,
		Amount:  m.Payout,
		Balance: bal,
		Forfeit: forfeit,
	})
	if err != nil {
		return err
	}
	obslog.L().Info("match_complete",
		zap.String("match_id", m.ID),
		zap.String("winner", m.Winner),
		zap.String("win_type", string(m.WinType)),
		zap.Bool("forfeit", forfeit),
		zap.Int64("transferred", settled.Transferred),
	)
	return nil
}

// SweepSettlements re-runs finalize for matches whose stake transfer failed
// after the terminal status committed. Returns the number settled this pass.
func (mgr *Manager) SweepSettlements(ctx context.Context) (int, error) {
	ids, err := mgr.rdb.ZRange(ctx, settleRetryKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan settlement retries: %w", err)
	}
	settled := 0
	for _, id := range ids {
		m, err := mgr.Get(ctx, id)
		if err != nil {
			if gammondto.IsKind(err, gammondto.KindNotFound) {
				// The live record expired before a retry landed. The journal
				// still shows the match as unsettled; nothing left to drive
				// a retry from, so stop trying.
				obslog.L().Error("match_settle_abandoned", zap.String("match_id", id))
				mgr.rdb.ZRem(ctx, settleRetryKey, id)
				continue
			}
			return settled, err
		}
		if err := mgr.finalize(ctx, m, m.ForfeitedBy != ""); err != nil {
			obslog.L().Warn("match_settle_retry_failed", zap.String("match_id", id), zap.Error(err))
			continue
		}
		mgr.rdb.ZRem(ctx, settleRetryKey, id)
		settled++
	}
	return settled, nil
}

func (mgr *Manager) armDeadline(cur *Match) {
	d := time.Now().UTC().Add(mgr.turnDeadline)
	cur.TurnDeadline = &d
}

func requireTurn(cur *Match, userID string) error {
	if cur.Status != StatusInProgress {
		return gammondto.NewError(gammondto.KindValidation, "bad_status",
			fmt.Sprintf("match is %s, not in progress", cur.Status))
	}
	c := cur.ColorOf(userID)
	if c == "" {
		return gammondto.NewError(gammondto.KindForbidden, "not_participant", "user is not seated in this match")
	}
	if cur.State == nil || cur.State.Turn != c {
		return gammondto.NewError(gammondto.KindForbidden, "not_your_turn", "opponent is to play")
	}
	return nil
}

func passTurn(s *engine.GameState) {
	s.Turn = s.Turn.Opponent()
	s.Dice = nil
}
