package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/ton-checkout/internal/backend"
	"github.com/suspectuso/ton-checkout/internal/walletbridge"
)

// --- fakes ---

type memStore struct {
	mu            sync.Mutex
	sessions      map[string]*Session
	statuses      map[string][]Status
	confirmations []ConfirmationRecord
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*Session),
		statuses: make(map[string][]Status),
	}
}

func (m *memStore) CreateSession(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) GetSession(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) UpdateSessionStatus(id string, status Status, out Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = append(m.statuses[id], status)
	return nil
}

func (m *memStore) SaveConfirmation(rec ConfirmationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations = append(m.confirmations, rec)
	return nil
}

func (m *memStore) history(id string) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Status(nil), m.statuses[id]...)
}

type fakeResolver struct {
	refs map[string]*JettonWalletRef
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, owner, symbol string) (*JettonWalletRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	ref, ok := f.refs[owner]
	if !ok {
		return nil, ErrNoTokenWallet
	}
	return ref, nil
}

type bridgeFunc func(ctx context.Context, req walletbridge.Request) (*walletbridge.Result, error)

func (f bridgeFunc) SendTransaction(ctx context.Context, req walletbridge.Request) (*walletbridge.Result, error) {
	return f(ctx, req)
}

type fakeConfirmer struct {
	mu    sync.Mutex
	calls []backend.ConfirmRequest
	resp  *backend.ConfirmResponse
	err   error
}

func (f *fakeConfirmer) ConfirmPayment(ctx context.Context, identity backend.Identity, req backend.ConfirmRequest) (*backend.ConfirmResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeConfirmer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bothWallets() *fakeResolver {
	return &fakeResolver{refs: map[string]*JettonWalletRef{
		testPayer:    {OwnerAddress: testPayer, JettonWalletAddress: "0:payer-jw", TokenSymbol: "USDT", Decimals: 6},
		testMerchant: {OwnerAddress: testMerchant, JettonWalletAddress: "0:merchant-jw", TokenSymbol: "USDT", Decimals: 6},
	}}
}

func walletSession() *Session {
	return &Session{
		ID:            NewCorrelationID(),
		UserKey:       "user-1",
		ProductType:   "course",
		ProductID:     "cs-101",
		Amount:        decimal.RequireFromString("0.01"),
		Method:        MethodWallet,
		Status:        StatusIdle,
		CorrelationID: NewCorrelationID(),
		CreatedAt:     time.Now(),
	}
}

func testControllerConfig() ControllerConfig {
	return ControllerConfig{
		PayerAddress:      testPayer,
		MerchantAddress:   testMerchant,
		TokenSymbol:       "USDT",
		GasAmountNano:     "50000000",
		ForwardAmountNano: 1,
		SignatureWindow:   600 * time.Second,
		ConfirmAttempts:   3,
		ConfirmBackoff:    time.Millisecond,
	}
}

func signingBridge() walletbridge.Bridge {
	return bridgeFunc(func(ctx context.Context, req walletbridge.Request) (*walletbridge.Result, error) {
		return &walletbridge.Result{BOC: "te6cc-signed"}, nil
	})
}

// --- tests ---

func TestController_HappyPath(t *testing.T) {
	store := newMemStore()
	sess := walletSession()
	confirmer := &fakeConfirmer{resp: &backend.ConfirmResponse{Token: "ok-token"}}

	var sent walletbridge.Request
	bridge := bridgeFunc(func(ctx context.Context, req walletbridge.Request) (*walletbridge.Result, error) {
		sent = req
		return &walletbridge.Result{BOC: "signed"}, nil
	})

	ctl := NewController(sess, backend.Identity{UserID: "u1"}, testControllerConfig(),
		bothWallets(), bridge, confirmer, store, testLogger())

	out := ctl.Run(context.Background())

	require.Equal(t, StatusSucceeded, sess.Status)
	require.Equal(t, "ok-token", out.ConfirmationToken)
	require.Empty(t, out.Reason)

	// Succeeded exactly once, through every intermediate status in order.
	require.Equal(t, []Status{
		StatusWalletDiscovery, StatusPayloadBuilding, StatusAwaitingSignature,
		StatusSubmittedToChain, StatusAwaitingConfirm, StatusSucceeded,
	}, store.history(sess.ID))

	// The wallet was asked to call the payer's jetton wallet with a payload.
	require.Len(t, sent.Messages, 1)
	require.Equal(t, "0:payer-jw", sent.Messages[0].Address)
	require.Equal(t, "50000000", sent.Messages[0].Amount)
	require.NotEmpty(t, sent.Messages[0].Payload)
	require.Greater(t, sent.ValidUntil, time.Now().Unix())

	// Confirmation used the correlation id as the order id.
	require.Equal(t, 1, confirmer.callCount())
	require.Equal(t, sess.CorrelationID, confirmer.calls[0].OrderID)

	require.Len(t, store.confirmations, 1)
	require.Equal(t, sess.CorrelationID, store.confirmations[0].CorrelationID)
}

func TestController_DiscoveryFailureEndsFailed(t *testing.T) {
	store := newMemStore()
	sess := walletSession()

	// Payer holds no USDT wallet.
	resolver := &fakeResolver{refs: map[string]*JettonWalletRef{}}

	ctl := NewController(sess, backend.Identity{UserID: "u1"}, testControllerConfig(),
		resolver, signingBridge(), &fakeConfirmer{}, store, testLogger())

	out := ctl.Run(context.Background())

	require.Equal(t, StatusFailed, sess.Status)
	require.Equal(t, ReasonNoTokenWallet, out.Reason)
	require.NotEmpty(t, out.NextStep, "terminal failures carry an actionable next step")
	require.NotContains(t, store.history(sess.ID), StatusSucceeded)
}

func TestController_WalletRejection(t *testing.T) {
	store := newMemStore()
	sess := walletSession()

	bridge := bridgeFunc(func(ctx context.Context, req walletbridge.Request) (*walletbridge.Result, error) {
		return nil, &WalletRejectedError{Cause: "user declined"}
	})

	ctl := NewController(sess, backend.Identity{UserID: "u1"}, testControllerConfig(),
		bothWallets(), bridge, &fakeConfirmer{}, store, testLogger())

	out := ctl.Run(context.Background())

	require.Equal(t, StatusFailed, sess.Status)
	require.Equal(t, ReasonWalletRejected, out.Reason)
}

func TestController_BackendUnreachableAfterBoundedRetries(t *testing.T) {
	store := newMemStore()
	sess := walletSession()
	confirmer := &fakeConfirmer{err: &backend.StatusError{StatusCode: 500, Body: "boom"}}

	ctl := NewController(sess, backend.Identity{UserID: "u1"}, testControllerConfig(),
		bothWallets(), signingBridge(), confirmer, store, testLogger())

	done := make(chan Outcome, 1)
	go func() { done <- ctl.Run(context.Background()) }()

	select {
	case out := <-done:
		require.Equal(t, StatusFailed, sess.Status)
		require.Equal(t, ReasonBackendUnreachable, out.Reason)
		require.Equal(t, 3, confirmer.callCount(), "bounded retries, same order id")
		for _, call := range confirmer.calls {
			require.Equal(t, sess.CorrelationID, call.OrderID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("controller hung on persistent backend failure")
	}
}

func TestController_BackendRejectionIsNotRetried(t *testing.T) {
	store := newMemStore()
	sess := walletSession()
	confirmer := &fakeConfirmer{err: &backend.StatusError{StatusCode: 402, Body: "payment required"}}

	ctl := NewController(sess, backend.Identity{UserID: "u1"}, testControllerConfig(),
		bothWallets(), signingBridge(), confirmer, store, testLogger())

	out := ctl.Run(context.Background())

	require.Equal(t, ReasonBackendRejected, out.Reason)
	require.Equal(t, 1, confirmer.callCount(), "a 4xx verdict is final")
}

func TestController_CancelDuringSignatureWait(t *testing.T) {
	store := newMemStore()
	sess := walletSession()

	relay := walletbridge.NewRelay()
	ctl := NewController(sess, backend.Identity{UserID: "u1"}, testControllerConfig(),
		bothWallets(), relay, &fakeConfirmer{}, store, testLogger())

	done := make(chan Outcome, 1)
	go func() { done <- ctl.Run(context.Background()) }()

	// Wait for the controller to reach the suspension point, then cancel.
	require.Eventually(t, func() bool {
		return relay.Pending() != nil
	}, 2*time.Second, 10*time.Millisecond)
	ctl.Cancel()

	select {
	case out := <-done:
		require.Equal(t, StatusFailed, sess.Status)
		require.Equal(t, ReasonCancelled, out.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not unblock the signature wait")
	}

	// A late wallet answer is ignorable: accepted by the relay, consumed by
	// no one, and it cannot move the terminal session.
	_ = relay.Deliver(walletbridge.Result{BOC: "late"})
	require.Equal(t, StatusFailed, sess.Status)
}

func TestController_NetworkErrorReason(t *testing.T) {
	store := newMemStore()
	sess := walletSession()
	resolver := &fakeResolver{err: &NetworkError{Op: "resolve", Err: errors.New("timeout")}}

	ctl := NewController(sess, backend.Identity{UserID: "u1"}, testControllerConfig(),
		resolver, signingBridge(), &fakeConfirmer{}, store, testLogger())

	out := ctl.Run(context.Background())
	require.Equal(t, ReasonNetworkError, out.Reason)
}

func TestController_ConcurrentSessionReadsDuringRun(t *testing.T) {
	store := newMemStore()
	sess := walletSession()
	confirmer := &fakeConfirmer{resp: &backend.ConfirmResponse{Token: "t"}}

	bridge := bridgeFunc(func(ctx context.Context, req walletbridge.Request) (*walletbridge.Result, error) {
		time.Sleep(20 * time.Millisecond)
		return &walletbridge.Result{BOC: "signed"}, nil
	})

	ctl := NewController(sess, backend.Identity{UserID: "u1"}, testControllerConfig(),
		bothWallets(), bridge, confirmer, store, testLogger())

	done := make(chan Outcome, 1)
	go func() { done <- ctl.Run(context.Background()) }()

	// Status polling from another goroutine, as a session query endpoint
	// would do it, must never race with the running controller.
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			snap := ctl.Session()
			_ = snap.Status
			_ = snap.Outcome
		}
	}
	require.Equal(t, StatusSucceeded, ctl.Session().Status)
}

func TestController_RunTwice(t *testing.T) {
	store := newMemStore()
	sess := walletSession()

	ctl := NewController(sess, backend.Identity{UserID: "u1"}, testControllerConfig(),
		bothWallets(), signingBridge(), &fakeConfirmer{resp: &backend.ConfirmResponse{Token: "t"}}, store, testLogger())

	_ = ctl.Run(context.Background())
	out := ctl.Run(context.Background())
	require.Equal(t, ReasonInternal, out.Reason)
}
