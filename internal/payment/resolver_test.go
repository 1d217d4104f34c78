package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suspectuso/ton-checkout/internal/tonapi"
)

type fakeBalanceSource struct {
	balances []tonapi.JettonBalance
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (f *fakeBalanceSource) GetJettonBalances(ctx context.Context, address string) ([]tonapi.JettonBalance, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	return f.balances, f.err
}

func usdtBalance(wallet string) tonapi.JettonBalance {
	return tonapi.JettonBalance{
		Balance:       "25000000",
		WalletAddress: tonapi.Account{Address: wallet},
		Jetton:        tonapi.JettonInfo{Symbol: "USDT", Decimals: 6, Name: "Tether USD"},
	}
}

func newTestResolver(source JettonBalanceSource) *Resolver {
	r := NewResolver(source)
	r.backoff = time.Millisecond
	return r
}

func TestResolver_FindsWalletBySymbol(t *testing.T) {
	source := &fakeBalanceSource{balances: []tonapi.JettonBalance{
		{Jetton: tonapi.JettonInfo{Symbol: "NOT", Decimals: 9}},
		usdtBalance("0:aa"),
	}}

	ref, err := newTestResolver(source).Resolve(context.Background(), testPayer, "USDT")
	require.NoError(t, err)
	require.Equal(t, "0:aa", ref.JettonWalletAddress)
	require.Equal(t, testPayer, ref.OwnerAddress)
	require.Equal(t, 6, ref.Decimals)
	require.Equal(t, 1, source.calls, "reads are not retried on success")
}

func TestResolver_SymbolMatchIsCaseInsensitive(t *testing.T) {
	source := &fakeBalanceSource{balances: []tonapi.JettonBalance{usdtBalance("0:aa")}}

	ref, err := newTestResolver(source).Resolve(context.Background(), testPayer, "usdt")
	require.NoError(t, err)
	require.Equal(t, "USDT", ref.TokenSymbol)
}

func TestResolver_NoTokenWallet(t *testing.T) {
	// Zero balances is a legitimate outcome, not a transport failure.
	source := &fakeBalanceSource{}

	ref, err := newTestResolver(source).Resolve(context.Background(), testPayer, "USDT")
	require.ErrorIs(t, err, ErrNoTokenWallet)
	require.Nil(t, ref)
	require.Equal(t, 1, source.calls, "a clean empty answer is not retried")
}

func TestResolver_TransportFailureRetriesThenNetworkError(t *testing.T) {
	source := &fakeBalanceSource{failures: 10}

	_, err := newTestResolver(source).Resolve(context.Background(), testPayer, "USDT")

	var nErr *NetworkError
	require.ErrorAs(t, err, &nErr)
	require.NotErrorIs(t, err, ErrNoTokenWallet)
	require.Equal(t, 3, source.calls, "bounded retry")
}

func TestResolver_RecoversWithinRetryBudget(t *testing.T) {
	source := &fakeBalanceSource{failures: 2, balances: []tonapi.JettonBalance{usdtBalance("0:aa")}}

	ref, err := newTestResolver(source).Resolve(context.Background(), testPayer, "USDT")
	require.NoError(t, err)
	require.Equal(t, "0:aa", ref.JettonWalletAddress)
	require.Equal(t, 3, source.calls)
}

func TestResolver_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &fakeBalanceSource{failures: 10}
	_, err := newTestResolver(source).Resolve(ctx, testPayer, "USDT")
	require.ErrorIs(t, err, context.Canceled)
}
