package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/suspectuso/ton-checkout/internal/backend"
)

// Deposit flow statuses. Expired is terminal and distinct from Failed: an
// elapsed window is an expected boundary, not an error.
const (
	StatusDepositPending Status = "deposit_pending"
	StatusExpired        Status = "expired"
)

// DepositAPI is the slice of the backend the deposit flow needs.
type DepositAPI interface {
	CreateDeposit(ctx context.Context, identity backend.Identity, req backend.CreateDepositRequest) (*backend.Deposit, error)
	VerifyDeposit(ctx context.Context, identity backend.Identity, req backend.VerifyDepositRequest) (*backend.VerifyDepositResponse, error)
}

// MemoWarning is part of the deposit instructions value, not advisory copy: a
// deposit without the memo cannot be matched to the order by the backend.
const MemoWarning = "include the memo with your transfer — deposits without it cannot be matched to your order"

// Instructions is everything the user needs to make the deposit. The memo
// equals the session's correlation id.
type Instructions struct {
	DepositAddress string    `json:"deposit_address"`
	Memo           string    `json:"memo"`
	Network        string    `json:"network"`
	Amount         string    `json:"amount"`
	ExpiresAt      time.Time `json:"expires_at"`
	Warning        string    `json:"warning"`
}

// DepositCoordinator manages one time-boxed exchange deposit: it obtains the
// address/memo pair, keeps a one-second countdown, and flips to Expired when
// the window elapses. The countdown goroutine is owned by the coordinator and
// stops on Close; nothing mutates state after teardown.
type DepositCoordinator struct {
	session  *Session
	identity backend.Identity
	api      DepositAPI
	store    SessionStore
	log      *slog.Logger

	window time.Duration
	now    func() time.Time

	// OnTick, when set before Open, is called once per second with the
	// clamped remaining duration.
	OnTick func(remaining time.Duration)

	mu        sync.Mutex
	deposit   *backend.Deposit
	expiresAt time.Time
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewDepositCoordinator creates a coordinator for one exchange session. The
// session must carry MethodExchange and a fresh correlation id.
func NewDepositCoordinator(session *Session, identity backend.Identity, api DepositAPI,
	store SessionStore, window time.Duration, log *slog.Logger) *DepositCoordinator {

	if window <= 0 {
		window = 1800 * time.Second
	}
	return &DepositCoordinator{
		session:  session,
		identity: identity,
		api:      api,
		store:    store,
		log:      log,
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Session returns a snapshot of the coordinated session. The live struct is
// mutated under the coordinator's lock, so callers get a copy, never the
// shared pointer.
func (d *DepositCoordinator) Session() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := *d.session
	return &snap
}

// Done is closed once the coordinator is finished: terminal status or Close.
func (d *DepositCoordinator) Done() <-chan struct{} { return d.done }

// clock reads the injectable time source under the lock.
func (d *DepositCoordinator) clock() time.Time {
	d.mu.Lock()
	now := d.now
	d.mu.Unlock()
	return now()
}

// Open requests the one-time deposit address/memo pair and starts the
// countdown. The memo sent to the backend is the session's correlation id.
func (d *DepositCoordinator) Open(ctx context.Context) (*Instructions, error) {
	d.mu.Lock()
	if d.deposit != nil {
		d.mu.Unlock()
		return nil, errors.New("deposit already open")
	}
	d.mu.Unlock()

	dep, err := d.api.CreateDeposit(ctx, d.identity, backend.CreateDepositRequest{
		Memo:       d.session.CorrelationID,
		ProductRef: d.session.ProductRef(),
		Amount:     d.session.Amount.String(),
		UserID:     d.identity.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}
	if dep.Memo != d.session.CorrelationID {
		// The backend echoing a different memo would break reconciliation.
		return nil, fmt.Errorf("backend memo %q does not match correlation id", dep.Memo)
	}

	expiresAt := dep.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = d.clock().Add(d.window)
	}

	d.mu.Lock()
	d.deposit = dep
	d.expiresAt = expiresAt
	d.session.ExpiresAt = &expiresAt
	var countdownCtx context.Context
	countdownCtx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	d.setStatus(StatusDepositPending, Outcome{})

	go d.countdown(countdownCtx)

	d.log.Info("deposit opened",
		"session_id", d.session.ID,
		"address", dep.DepositAddress,
		"expires_at", expiresAt,
	)

	return &Instructions{
		DepositAddress: dep.DepositAddress,
		Memo:           dep.Memo,
		Network:        dep.Network,
		Amount:         dep.Amount,
		ExpiresAt:      expiresAt,
		Warning:        MemoWarning,
	}, nil
}

// Remaining is the clamped time left in the window: never negative, zero at
// and after expiry.
func (d *DepositCoordinator) Remaining(now time.Time) time.Duration {
	d.mu.Lock()
	expiresAt := d.expiresAt
	d.mu.Unlock()

	if expiresAt.IsZero() {
		return 0
	}
	left := expiresAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Address returns the deposit address once open.
func (d *DepositCoordinator) Address() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deposit == nil {
		return ""
	}
	return d.deposit.DepositAddress
}

// Verify asks the backend whether the deposit arrived. Refused locally once
// the window elapsed so expiry is reported as Expired, not as a backend
// rejection.
func (d *DepositCoordinator) Verify(ctx context.Context) (bool, error) {
	d.mu.Lock()
	dep := d.deposit
	status := d.session.Status
	d.mu.Unlock()

	if dep == nil {
		return false, errors.New("deposit not open")
	}
	if status.Terminal() {
		if status == StatusExpired {
			return false, ErrDepositExpired
		}
		return status == StatusSucceeded, nil
	}
	if d.Remaining(d.clock()) == 0 {
		d.expire()
		return false, ErrDepositExpired
	}

	resp, err := d.api.VerifyDeposit(ctx, d.identity, backend.VerifyDepositRequest{
		DepositAddress: dep.DepositAddress,
		UserID:         d.identity.UserID,
	})
	if err != nil {
		return false, fmt.Errorf("verify deposit: %w", err)
	}
	if !resp.Success {
		return false, nil
	}

	d.setStatus(StatusSucceeded, Outcome{})
	if err := d.store.SaveConfirmation(ConfirmationRecord{
		CorrelationID: d.session.CorrelationID,
		TxRef:         dep.DepositAddress,
		Identity:      d.identity.UserID,
		ProductRef:    d.session.ProductRef(),
		VerifiedAt:    d.clock(),
	}); err != nil {
		d.log.Error("save confirmation", "session_id", d.session.ID, "error", err)
	}
	d.Close()
	return true, nil
}

// Close stops the countdown. Idempotent; must be called on teardown so the
// ticker never outlives the coordinator.
func (d *DepositCoordinator) Close() {
	d.mu.Lock()
	cancel := d.cancel
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *DepositCoordinator) countdown(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			left := d.Remaining(d.clock())
			if d.OnTick != nil {
				d.OnTick(left)
			}
			if left == 0 {
				d.expire()
				return
			}
		}
	}
}

func (d *DepositCoordinator) expire() {
	out := Outcome{
		Message:  "deposit window elapsed",
		NextStep: "start a new deposit or pay with a connected wallet",
	}

	// Closed-check and status write in one critical section: a racing Close
	// must not let state mutate after disposal.
	d.mu.Lock()
	if d.closed || d.session.Status.Terminal() {
		d.mu.Unlock()
		return
	}
	d.session.Status = StatusExpired
	d.session.Outcome = out
	d.mu.Unlock()

	if err := d.store.UpdateSessionStatus(d.session.ID, StatusExpired, out); err != nil {
		d.log.Error("persist session status", "session_id", d.session.ID, "error", err)
	}
	d.log.Info("deposit expired", "session_id", d.session.ID)
	d.Close()
}

func (d *DepositCoordinator) setStatus(next Status, out Outcome) {
	d.mu.Lock()
	if d.session.Status.Terminal() {
		d.mu.Unlock()
		return
	}
	d.session.Status = next
	if out != (Outcome{}) {
		d.session.Outcome = out
	}
	d.mu.Unlock()

	if err := d.store.UpdateSessionStatus(d.session.ID, next, out); err != nil {
		d.log.Error("persist session status", "session_id", d.session.ID, "error", err)
	}
}
