package purchase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tavla-games/gammon-server/internal/ledger"
	"github.com/tavla-games/gammon-server/internal/obslog"
	"github.com/tavla-games/gammon-server/pkg/gammondto"
)

// StatePaid is the only gateway state worth crediting.
const StatePaid = "paid"

type Verifier interface {
	Verify(ctx context.Context, externalRef string) (*Verified, error)
}

type Ledger interface {
	SettlePurchase(ctx context.Context, externalRef string, amount int64, account string) (*ledger.PurchaseResult, error)
}

type Service struct {
	verifier Verifier
	ledger   Ledger
}

func NewService(verifier Verifier, l Ledger) *Service {
	return &Service{verifier: verifier, ledger: l}
}

// Confirm verifies the receipt with the gateway and settles it against the
// account. Replays are safe: the ledger keys settlements on the external
// reference.
func (s *Service) Confirm(ctx context.Context, externalRef, account string) (*ledger.PurchaseResult, error) {
	if externalRef == "" {
		return nil, gammondto.NewError(gammondto.KindValidation, "bad_reference", "external reference is required")
	}
	if account == "" {
		return nil, gammondto.NewError(gammondto.KindValidation, "missing_user", "account is required")
	}

	v, err := s.verifier.Verify(ctx, externalRef)
	if err != nil {
		return nil, fmt.Errorf("verify purchase %s: %w", externalRef, err)
	}
	if v.State != StatePaid {
		return nil, gammondto.NewError(gammondto.KindValidation, "purchase_not_paid",
			fmt.Sprintf("purchase %s is %q, not paid", externalRef, v.State)).WithMeta("state", v.State)
	}
	if v.Amount <= 0 {
		return nil, gammondto.NewError(gammondto.KindInvariant, "bad_verified_amount",
			fmt.Sprintf("gateway attested non-positive amount %d", v.Amount))
	}

	res, err := s.ledger.SettlePurchase(ctx, v.ExternalReference, v.Amount, account)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("purchase_confirmed",
		zap.String("reference", v.ExternalReference),
		zap.String("account", account),
		zap.Int64("amount", v.Amount),
		zap.Bool("replay", res.AlreadySettled),
	)
	return res, nil
}
