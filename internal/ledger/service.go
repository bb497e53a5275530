// Package ledger is the append-only balance-transition log. Every mutation
// runs under a row lock on the account and writes an immutable transaction
// row carrying the post-mutation balance snapshot.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/tavla-games/gammon-server/internal/obslog"
	"github.com/tavla-games/gammon-server/pkg/gammondto"
)

type Service struct {
	db          *sql.DB
	bonusAmount int64
}

func NewService(db *sql.DB, bonusAmount int64) *Service {
	return &Service{db: db, bonusAmount: bonusAmount}
}

// OpenDB opens the shared Postgres pool with the pool limits the service is
// tuned for.
func OpenDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func balanceColumn(b Balance) string {
	if b == BalanceClub {
		return "club_chips"
	}
	return "currency_balance"
}

func (s *Service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// lockAccount takes the per-account row lock and returns the locked balance.
// Missing accounts are created empty first, so every user id is a valid
// ledger account.
func lockAccount(ctx context.Context, tx *sql.Tx, account string, bal Balance) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, account); err != nil {
		return 0, fmt.Errorf("ensure account %s: %w", account, err)
	}
	var balance int64
	q := fmt.Sprintf(`SELECT %s FROM accounts WHERE user_id = $1 FOR UPDATE`, balanceColumn(bal))
	if err := tx.QueryRowContext(ctx, q, account).Scan(&balance); err != nil {
		return 0, fmt.Errorf("lock account %s: %w", account, err)
	}
	return balance, nil
}

func writeBalance(ctx context.Context, tx *sql.Tx, account string, bal Balance, balance int64) error {
	q := fmt.Sprintf(`UPDATE accounts SET %s = $2, updated_at = now() WHERE user_id = $1`, balanceColumn(bal))
	if _, err := tx.ExecContext(ctx, q, account, balance); err != nil {
		return fmt.Errorf("update balance %s: %w", account, err)
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t *Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions
			(id, account, kind, amount, balance_after, reference, related_match, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)`,
		t.ID, t.Account, string(t.Kind), t.Amount, t.BalanceAfter,
		t.Reference, t.RelatedMatch, t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// move applies a signed delta under the account row lock and appends the
// transaction row. Debits that would go negative are rejected untouched.
func move(ctx context.Context, tx *sql.Tx, account string, bal Balance, delta int64, kind Kind, desc, ref, matchID string) (*Transaction, error) {
	balance, err := lockAccount(ctx, tx, account, bal)
	if err != nil {
		return nil, err
	}
	newBalance := balance + delta
	if newBalance < 0 {
		return nil, gammondto.NewError(gammondto.KindValidation, "insufficient_funds",
			fmt.Sprintf("balance %d cannot cover %d", balance, -delta))
	}
	if err := writeBalance(ctx, tx, account, bal, newBalance); err != nil {
		return nil, err
	}
	t := &Transaction{
		ID:           uuid.NewString(),
		Account:      account,
		Kind:         kind,
		Amount:       delta,
		BalanceAfter: newBalance,
		Reference:    ref,
		RelatedMatch: matchID,
		Description:  desc,
		CreatedAt:    time.Now().UTC(),
	}
	if err := insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Credit adds amount to the account's balance.
func (s *Service) Credit(ctx context.Context, account string, bal Balance, amount int64, kind Kind, desc string) (*Transaction, error) {
	if amount <= 0 {
		return nil, gammondto.NewError(gammondto.KindValidation, "bad_amount", "credit amount must be positive")
	}
	var out *Transaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := move(ctx, tx, account, bal, amount, kind, desc, "", "")
		out = t
		return err
	})
	return out, err
}

// Debit removes amount; rejected with insufficient_funds when it would go
// negative.
func (s *Service) Debit(ctx context.Context, account string, bal Balance, amount int64, kind Kind, desc string) (*Transaction, error) {
	if amount <= 0 {
		return nil, gammondto.NewError(gammondto.KindValidation, "bad_amount", "debit amount must be positive")
	}
	var out *Transaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := move(ctx, tx, account, bal, -amount, kind, desc, "", "")
		out = t
		return err
	})
	return out, err
}

// SettleMatch moves the stake from loser to winner as one atomic unit,
// exactly once per match id. A re-invocation for an already settled match
// returns the recorded transfer without touching the balances, so failed
// settlements are safe to retry. The transfer caps at the loser's balance;
// a loser never goes negative. Account rows lock in lexicographic order so
// two settlements touching the same pair cannot deadlock.
func (s *Service) SettleMatch(ctx context.Context, p SettleMatchParams) (*Settlement, error) {
	if p.MatchID == "" {
		return nil, gammondto.NewError(gammondto.KindInvariant, "settlement_match", "match id is required")
	}
	if p.Winner == "" || p.Loser == "" || p.Winner == p.Loser {
		return nil, gammondto.NewError(gammondto.KindInvariant, "settlement_participants",
			"match settlement requires two distinct participants")
	}
	if p.Amount < 0 {
		return nil, gammondto.NewError(gammondto.KindInvariant, "settlement_amount", "negative settlement amount")
	}

	desc := fmt.Sprintf("match %s stake settlement", p.MatchID)
	if p.Forfeit {
		desc = fmt.Sprintf("match %s forfeit settlement", p.MatchID)
	}

	var out *Settlement
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if prior, err := priorSettlement(ctx, tx, p.MatchID); err != nil {
			return err
		} else if prior != nil {
			out = prior
			return nil
		}
		first, second := p.Winner, p.Loser
		if second < first {
			first, second = second, first
		}
		firstBal, err := lockAccount(ctx, tx, first, p.Balance)
		if err != nil {
			return err
		}
		secondBal, err := lockAccount(ctx, tx, second, p.Balance)
		if err != nil {
			return err
		}
		loserBalance := firstBal
		if second == p.Loser {
			loserBalance = secondBal
		}
		transfer := p.Amount
		if loserBalance < transfer {
			transfer = loserBalance
		}

		lossTx, err := move(ctx, tx, p.Loser, p.Balance, -transfer, KindMatchLoss, desc, "", p.MatchID)
		if err != nil {
			return err
		}
		winTx, err := move(ctx, tx, p.Winner, p.Balance, transfer, KindMatchWin, desc, "", p.MatchID)
		if err != nil {
			return err
		}
		out = &Settlement{
			MatchID:       p.MatchID,
			Transferred:   transfer,
			WinnerBalance: winTx.BalanceAfter,
			LoserBalance:  lossTx.BalanceAfter,
		}
		return nil
	})
	if err != nil {
		// Two settlements racing past the existence check trip the unique
		// match index; the loser re-reads the recorded rows.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			var prior *Settlement
			rerr := s.withTx(ctx, func(tx *sql.Tx) error {
				found, err := priorSettlement(ctx, tx, p.MatchID)
				prior = found
				return err
			})
			if rerr == nil && prior != nil {
				return prior, nil
			}
		}
		return nil, err
	}
	obslog.L().Info("ledger_settle_match",
		zap.String("match_id", p.MatchID),
		zap.String("winner", p.Winner),
		zap.String("loser", p.Loser),
		zap.Int64("nominal", p.Amount),
		zap.Int64("transferred", out.Transferred),
		zap.Bool("replay", out.AlreadySettled),
	)
	return out, nil
}

// priorSettlement reads the recorded win/loss rows for a match, if any.
func priorSettlement(ctx context.Context, tx *sql.Tx, matchID string) (*Settlement, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT kind, amount, balance_after FROM ledger_transactions
		WHERE related_match = $1 AND kind IN ($2, $3)`,
		matchID, string(KindMatchWin), string(KindMatchLoss),
	)
	if err != nil {
		return nil, fmt.Errorf("lookup settlement %s: %w", matchID, err)
	}
	defer rows.Close()

	out := &Settlement{MatchID: matchID, AlreadySettled: true}
	found := false
	for rows.Next() {
		var (
			kind         string
			amount       int64
			balanceAfter int64
		)
		if err := rows.Scan(&kind, &amount, &balanceAfter); err != nil {
			return nil, fmt.Errorf("scan settlement %s: %w", matchID, err)
		}
		found = true
		switch Kind(kind) {
		case KindMatchWin:
			out.Transferred = amount
			out.WinnerBalance = balanceAfter
		case KindMatchLoss:
			out.LoserBalance = balanceAfter
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup settlement %s: %w", matchID, err)
	}
	if !found {
		return nil, nil
	}
	return out, nil
}

// SettlePurchase credits a verified external purchase exactly once per
// external reference. A replay returns the recorded result without touching
// the balance.
func (s *Service) SettlePurchase(ctx context.Context, externalRef string, amount int64, account string) (*PurchaseResult, error) {
	if externalRef == "" {
		return nil, gammondto.NewError(gammondto.KindValidation, "bad_reference", "external reference is required")
	}
	if amount <= 0 {
		return nil, gammondto.NewError(gammondto.KindValidation, "bad_amount", "purchase amount must be positive")
	}

	var out *PurchaseResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if prior, err := priorPurchase(ctx, tx, externalRef); err != nil {
			return err
		} else if prior != nil {
			out = prior
			return nil
		}
		t, err := move(ctx, tx, account, BalanceCurrency, amount, KindPurchase,
			"verified external purchase", externalRef, "")
		if err != nil {
			return err
		}
		out = &PurchaseResult{TransactionID: t.ID, Credited: t.Amount, BalanceAfter: t.BalanceAfter}
		return nil
	})
	if err == nil {
		return out, nil
	}

	// Two confirmations racing past the existence check trip the unique
	// reference index; the loser re-reads the recorded row.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		var prior *PurchaseResult
		rerr := s.withTx(ctx, func(tx *sql.Tx) error {
			p, err := priorPurchase(ctx, tx, externalRef)
			prior = p
			return err
		})
		if rerr == nil && prior != nil {
			return prior, nil
		}
	}
	return nil, err
}

func priorPurchase(ctx context.Context, tx *sql.Tx, externalRef string) (*PurchaseResult, error) {
	var (
		id           string
		amount       int64
		balanceAfter int64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, amount, balance_after FROM ledger_transactions
		WHERE reference = $1 AND kind = $2`,
		externalRef, string(KindPurchase),
	).Scan(&id, &amount, &balanceAfter)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup purchase %s: %w", externalRef, err)
	}
	return &PurchaseResult{TransactionID: id, Credited: amount, BalanceAfter: balanceAfter, AlreadySettled: true}, nil
}

// ClaimDailyBonus credits the fixed bonus at most once per UTC calendar day.
// A same-day re-claim is rejected with the next eligible time in the error
// metadata.
func (s *Service) ClaimDailyBonus(ctx context.Context, account string) (*BonusResult, error) {
	var out *BonusResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockAccount(ctx, tx, account, BalanceCurrency); err != nil {
			return err
		}
		var last sql.NullTime
		if err := tx.QueryRowContext(ctx,
			`SELECT last_bonus_at FROM accounts WHERE user_id = $1`, account).Scan(&last); err != nil {
			return fmt.Errorf("read last bonus for %s: %w", account, err)
		}

		now := time.Now().UTC()
		if last.Valid && sameUTCDay(last.Time, now) {
			next := nextUTCMidnight(now)
			return gammondto.NewError(gammondto.KindValidation, "bonus_already_claimed",
				"daily bonus already claimed today").WithMeta("next_claim_at", next)
		}

		t, err := move(ctx, tx, account, BalanceCurrency, s.bonusAmount, KindDailyBonus, "daily bonus", "", "")
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET last_bonus_at = $2, updated_at = now() WHERE user_id = $1`,
			account, now); err != nil {
			return fmt.Errorf("record bonus claim for %s: %w", account, err)
		}
		out = &BonusResult{Amount: t.Amount, BalanceAfter: t.BalanceAfter, NextClaimAt: nextUTCMidnight(now)}
		return nil
	})
	return out, err
}

// Balances returns the current currency and club balances without locking.
func (s *Service) Balances(ctx context.Context, account string) (currency, club int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT currency_balance, club_chips FROM accounts WHERE user_id = $1`, account,
	).Scan(&currency, &club)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read balances for %s: %w", account, err)
	}
	return currency, club, nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func nextUTCMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
