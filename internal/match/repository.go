package match

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tavla-games/gammon-server/internal/engine"
)

// Repository archives terminal matches and maintains per-player aggregates in
// Postgres. The live copy stays in Redis; this table is the durable record.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

var matchSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS matches (
		match_id     TEXT PRIMARY KEY,
		mode         TEXT NOT NULL,
		stake        BIGINT NOT NULL,
		club_scope   TEXT NOT NULL DEFAULT '',
		player_white TEXT NOT NULL,
		player_black TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		winner       TEXT NOT NULL DEFAULT '',
		win_type     TEXT NOT NULL DEFAULT '',
		final_cube   INT NOT NULL DEFAULT 1,
		payout       BIGINT NOT NULL DEFAULT 0,
		forfeited_by TEXT NOT NULL DEFAULT '',
		final_state  JSONB,
		started_at   TIMESTAMPTZ NOT NULL,
		ended_at     TIMESTAMPTZ,
		duration_ms  BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS player_stats (
		user_id         TEXT PRIMARY KEY,
		games           BIGINT NOT NULL DEFAULT 0,
		wins            BIGINT NOT NULL DEFAULT 0,
		gammon_wins     BIGINT NOT NULL DEFAULT 0,
		backgammon_wins BIGINT NOT NULL DEFAULT 0,
		forfeits        BIGINT NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the archive tables when missing. Called once at startup.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range matchSchemaStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure match schema: %w", err)
		}
	}
	return nil
}

// SaveTerminal upserts a completed or abandoned match.
func (r *Repository) SaveTerminal(ctx context.Context, m *Match) error {
	if r == nil || r.db == nil || m == nil {
		return nil
	}
	if !m.Status.Terminal() {
		return fmt.Errorf("match %s is %s, only terminal matches are archived", m.ID, m.Status)
	}

	var finalState []byte
	if m.State != nil {
		raw, err := json.Marshal(m.State)
		if err != nil {
			return fmt.Errorf("encode final state for %s: %w", m.ID, err)
		}
		finalState = raw
	}
	var endedAt *time.Time
	var durationMs int64
	if m.CompletedAt != nil {
		endedAt = m.CompletedAt
		durationMs = m.CompletedAt.Sub(m.CreatedAt).Milliseconds()
		if durationMs < 0 {
			durationMs = 0
		}
	}

	q := `INSERT INTO matches (
	    match_id, mode, stake, club_scope, player_white, player_black,
	    status, winner, win_type, final_cube, payout, forfeited_by,
	    final_state, started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
	  ) ON CONFLICT (match_id) DO UPDATE SET
	    status=EXCLUDED.status,
	    winner=EXCLUDED.winner,
	    win_type=EXCLUDED.win_type,
	    final_cube=EXCLUDED.final_cube,
	    payout=EXCLUDED.payout,
	    forfeited_by=EXCLUDED.forfeited_by,
	    final_state=EXCLUDED.final_state,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		m.ID, string(m.Mode), m.Stake, m.ClubScope, m.PlayerWhite, m.PlayerBlack,
		string(m.Status), m.Winner, string(m.WinType), m.FinalCube, m.Payout, m.ForfeitedBy,
		finalState, m.CreatedAt, endedAt, durationMs,
	)
	if err != nil {
		return fmt.Errorf("archive match %s: %w", m.ID, err)
	}
	return nil
}

// RecordResult bumps both players' aggregates for one completed match.
// Abandoned matches count for nobody.
func (r *Repository) RecordResult(ctx context.Context, m *Match) error {
	if r == nil || r.db == nil || m == nil || m.Status != StatusCompleted {
		return nil
	}
	loser := m.Opponent(m.Winner)

	winGammon := m.WinType == engine.WinGammon
	winBackgammon := m.WinType == engine.WinBackgammon

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stats tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := `INSERT INTO player_stats (user_id, games, wins, gammon_wins, backgammon_wins, forfeits, updated_at)
	  VALUES ($1, 1, $2, $3, $4, $5, now())
	  ON CONFLICT (user_id) DO UPDATE SET
	    games=player_stats.games+1,
	    wins=player_stats.wins+$2,
	    gammon_wins=player_stats.gammon_wins+$3,
	    backgammon_wins=player_stats.backgammon_wins+$4,
	    forfeits=player_stats.forfeits+$5,
	    updated_at=now()`

	if _, err := tx.ExecContext(ctx, q, m.Winner, 1, b2i(winGammon), b2i(winBackgammon), 0); err != nil {
		return fmt.Errorf("record winner stats: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, loser, 0, 0, 0, b2i(m.ForfeitedBy == loser)); err != nil {
		return fmt.Errorf("record loser stats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stats tx: %w", err)
	}
	return nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
