package ledger

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id          TEXT PRIMARY KEY,
		currency_balance BIGINT NOT NULL DEFAULT 0 CHECK (currency_balance >= 0),
		club_chips       BIGINT NOT NULL DEFAULT 0 CHECK (club_chips >= 0),
		last_bonus_at    TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		id            UUID PRIMARY KEY,
		account       TEXT NOT NULL REFERENCES accounts(user_id),
		kind          TEXT NOT NULL,
		amount        BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		reference     TEXT,
		related_match TEXT,
		description   TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	// One settlement per external purchase reference.
	`CREATE UNIQUE INDEX IF NOT EXISTS ledger_transactions_reference_uniq
		ON ledger_transactions (reference) WHERE reference IS NOT NULL`,
	// One win row and one loss row per settled match, so settlement
	// retries cannot move the stake twice.
	`CREATE UNIQUE INDEX IF NOT EXISTS ledger_transactions_match_kind_uniq
		ON ledger_transactions (related_match, kind) WHERE related_match IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS ledger_transactions_account_idx
		ON ledger_transactions (account, created_at DESC)`,
}

// EnsureSchema creates the ledger tables when missing. Called once at startup.
func (s *Service) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}
