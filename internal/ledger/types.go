package ledger

import "time"

// Kind tags a ledger transaction row.
type Kind string

const (
	KindMatchWin   Kind = "match_win"
	KindMatchLoss  Kind = "match_loss"
	KindPurchase   Kind = "purchase"
	KindDailyBonus Kind = "daily_bonus"
	KindAdjustment Kind = "adjustment"
)

// Balance selects which balance column an operation moves.
type Balance string

const (
	BalanceCurrency Balance = "currency"
	BalanceClub     Balance = "club"
)

// Transaction is one immutable row of the append-only log. Amount is signed;
// BalanceAfter is a snapshot taken at write time and never recomputed.
type Transaction struct {
	ID           string    `json:"id"`
	Account      string    `json:"account"`
	Kind         Kind      `json:"kind"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reference    string    `json:"reference,omitempty"`
	RelatedMatch string    `json:"related_match,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SettleMatchParams describe the stake transfer for a finished match.
type SettleMatchParams struct {
	MatchID string
	Winner  string
	Loser   string
	// Amount is the nominal stake x cube x win multiplier; the actual
	// transfer is capped at the loser's balance.
	Amount  int64
	Balance Balance
	Forfeit bool
}

// Settlement reports what actually moved. AlreadySettled marks the
// idempotent replay path, where the recorded transfer is returned unchanged.
type Settlement struct {
	MatchID        string `json:"match_id"`
	Transferred    int64  `json:"transferred"`
	WinnerBalance  int64  `json:"winner_balance"`
	LoserBalance   int64  `json:"loser_balance"`
	AlreadySettled bool   `json:"already_settled"`
}

// PurchaseResult is returned by SettlePurchase; AlreadySettled marks the
// idempotent replay path, where the recorded outcome is returned unchanged.
type PurchaseResult struct {
	TransactionID  string `json:"transaction_id"`
	Credited       int64  `json:"credited"`
	BalanceAfter   int64  `json:"balance_after"`
	AlreadySettled bool   `json:"already_settled"`
}

// BonusResult is returned by a successful daily-bonus claim.
type BonusResult struct {
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	NextClaimAt  time.Time `json:"next_claim_at"`
}
