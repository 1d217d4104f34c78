package payment

import (
	"context"
	"strings"
	"time"

	"github.com/suspectuso/ton-checkout/internal/tonapi"
)

// JettonBalanceSource is the read-only indexer query the resolver needs.
type JettonBalanceSource interface {
	GetJettonBalances(ctx context.Context, address string) ([]tonapi.JettonBalance, error)
}

// Resolver finds the token-specific sub-wallet for an owner account.
type Resolver struct {
	source   JettonBalanceSource
	attempts int
	backoff  time.Duration
}

// NewResolver creates a resolver with bounded retry for transport failures.
// Lookups are idempotent reads, so retrying is safe.
func NewResolver(source JettonBalanceSource) *Resolver {
	return &Resolver{
		source:   source,
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
}

// Resolve returns the owner's sub-wallet for the given token symbol.
// ErrNoTokenWallet when the account holds no wallet for the token — a
// legitimate outcome, never to be confused with the retryable *NetworkError
// returned on transport failure.
func (r *Resolver) Resolve(ctx context.Context, ownerAddress, tokenSymbol string) (*JettonWalletRef, error) {
	var balances []tonapi.JettonBalance
	var err error

	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * r.backoff):
			}
		}

		balances, err = r.source.GetJettonBalances(ctx, ownerAddress)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, &NetworkError{Op: "resolve jetton wallet", Err: err}
	}

	for _, b := range balances {
		if strings.EqualFold(b.Jetton.Symbol, tokenSymbol) {
			return &JettonWalletRef{
				OwnerAddress:        ownerAddress,
				JettonWalletAddress: b.WalletAddress.Address,
				TokenSymbol:         b.Jetton.Symbol,
				Decimals:            b.Jetton.Decimals,
			}, nil
		}
	}

	return nil, ErrNoTokenWallet
}
