package payment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/suspectuso/ton-checkout/internal/backend"
	"github.com/suspectuso/ton-checkout/internal/walletbridge"
)

// WalletResolver finds a token sub-wallet for an owner.
type WalletResolver interface {
	Resolve(ctx context.Context, ownerAddress, tokenSymbol string) (*JettonWalletRef, error)
}

// Confirmer is the backend confirmation call.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, identity backend.Identity, req backend.ConfirmRequest) (*backend.ConfirmResponse, error)
}

// SessionStore persists status transitions and confirmations. Persistence
// failures are logged, not fatal: the in-memory machine stays authoritative
// for a running session.
type SessionStore interface {
	UpdateSessionStatus(id string, status Status, outcome Outcome) error
	SaveConfirmation(rec ConfirmationRecord) error
}

// ConfirmationRecord links a confirmed payment to its backend order.
type ConfirmationRecord struct {
	CorrelationID string
	TxRef         string
	Identity      string
	ProductRef    string
	VerifiedAt    time.Time
}

// ControllerConfig are the fixed parameters of one wallet payment attempt.
type ControllerConfig struct {
	PayerAddress    string
	MerchantAddress string
	TokenSymbol     string

	// GasAmountNano is the TON attached to the jetton wallet call, in
	// nanoton, as the wallet bridge expects it.
	GasAmountNano     string
	ForwardAmountNano int64

	SignatureWindow time.Duration
	ConfirmAttempts int
	ConfirmBackoff  time.Duration
}

// Controller drives one payment session from Idle to a terminal status. Each
// step either completes synchronously or suspends on exactly one external
// actor: the indexer, the wallet, or the backend. Every step error lands in
// Failed with a structured reason; nothing is left stuck.
type Controller struct {
	session   *Session
	identity  backend.Identity
	cfg       ControllerConfig
	resolver  WalletResolver
	bridge    walletbridge.Bridge
	confirmer Confirmer
	store     SessionStore
	log       *slog.Logger

	now func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewController creates a controller for one session. The session must be in
// StatusIdle.
func NewController(session *Session, identity backend.Identity, cfg ControllerConfig,
	resolver WalletResolver, bridge walletbridge.Bridge, confirmer Confirmer,
	store SessionStore, log *slog.Logger) *Controller {

	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = 3
	}
	if cfg.ConfirmBackoff <= 0 {
		cfg.ConfirmBackoff = time.Second
	}
	if cfg.SignatureWindow <= 0 {
		cfg.SignatureWindow = 600 * time.Second
	}

	return &Controller{
		session:   session,
		identity:  identity,
		cfg:       cfg,
		resolver:  resolver,
		bridge:    bridge,
		confirmer: confirmer,
		store:     store,
		log:       log,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Session returns a snapshot of the controlled session. Run mutates the live
// struct from its own goroutine, so concurrent observers get a copy.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := *c.session
	return &snap
}

// Done is closed once the session reaches a terminal status.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Cancel aborts an in-flight session. Pending suspensions are unblocked and
// any still-arriving wallet or network response is discarded.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives the session to a terminal status and returns the outcome.
// It may be called once.
func (c *Controller) Run(ctx context.Context) Outcome {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return Outcome{Reason: ReasonInternal, Message: "controller already run"}
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	defer close(c.done)
	defer c.cancel()

	out, err := c.run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			out = Outcome{
				Reason:   ReasonCancelled,
				Message:  "payment cancelled",
				NextStep: "start a new payment when ready",
			}
		} else {
			out = outcomeFor(err)
		}
		c.fail(out)
		return out
	}

	c.mu.Lock()
	c.session.Outcome = out
	c.mu.Unlock()
	c.log.Info("payment succeeded",
		"session_id", c.session.ID,
		"correlation_id", c.session.CorrelationID,
	)
	return out
}

func (c *Controller) run(ctx context.Context) (Outcome, error) {
	if err := c.apply(EventStart); err != nil {
		return Outcome{}, err
	}

	payer, err := c.resolver.Resolve(ctx, c.cfg.PayerAddress, c.cfg.TokenSymbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve payer wallet: %w", err)
	}
	payee, err := c.resolver.Resolve(ctx, c.cfg.MerchantAddress, c.cfg.TokenSymbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve merchant wallet: %w", err)
	}
	if err := c.apply(EventWalletsResolved); err != nil {
		return Outcome{}, err
	}

	minor, err := ToMinorUnits(c.session.Amount, payee.Decimals)
	if err != nil {
		return Outcome{}, err
	}
	boc, err := BuildTransfer(c.cfg.MerchantAddress, minor, c.session.CorrelationID, TransferOpts{
		ResponseDestination: c.cfg.PayerAddress,
		ForwardAmountNano:   c.cfg.ForwardAmountNano,
	})
	if err != nil {
		return Outcome{}, err
	}
	if err := c.apply(EventPayloadBuilt); err != nil {
		return Outcome{}, err
	}

	// Suspends until the user acts in their wallet, or until cancellation.
	res, err := c.bridge.SendTransaction(ctx, walletbridge.Request{
		ValidUntil: c.now().Add(c.cfg.SignatureWindow).Unix(),
		Messages: []walletbridge.Message{{
			Address: payer.JettonWalletAddress,
			Amount:  c.cfg.GasAmountNano,
			Payload: base64.StdEncoding.EncodeToString(boc),
		}},
	})
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		var wErr *WalletRejectedError
		if !errors.As(err, &wErr) {
			err = &WalletRejectedError{Cause: err.Error()}
		}
		return Outcome{}, err
	}
	if err := c.apply(EventSigned); err != nil {
		return Outcome{}, err
	}
	if err := c.apply(EventSubmitted); err != nil {
		return Outcome{}, err
	}

	// On-chain finality is the backend's job; we report the submission and
	// wait for its verdict only.
	confirm, err := c.confirm(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if err := c.apply(EventConfirmed); err != nil {
		return Outcome{}, err
	}

	rec := ConfirmationRecord{
		CorrelationID: c.session.CorrelationID,
		TxRef:         res.BOC,
		Identity:      c.identity.UserID,
		ProductRef:    c.session.ProductRef(),
		VerifiedAt:    c.now(),
	}
	if err := c.store.SaveConfirmation(rec); err != nil {
		c.log.Error("save confirmation", "session_id", c.session.ID, "error", err)
	}

	return Outcome{ConfirmationToken: confirm.Token}, nil
}

// confirm calls the backend with bounded retries. A rejecting response is
// terminal immediately; only transport failures and 5xx are retried, always
// with the same order id so the backend can deduplicate.
func (c *Controller) confirm(ctx context.Context) (*backend.ConfirmResponse, error) {
	req := backend.ConfirmRequest{
		OrderID:      c.session.CorrelationID,
		OwnerAddress: c.cfg.PayerAddress,
		ProductRef:   c.session.ProductRef(),
		Amount:       c.session.Amount.String(),
		UserID:       c.identity.UserID,
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.ConfirmAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.cfg.ConfirmBackoff):
			}
		}

		resp, err := c.confirmer.ConfirmPayment(ctx, c.identity, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var sErr *backend.StatusError
		if errors.As(err, &sErr) && sErr.StatusCode < 500 {
			return nil, &BackendRejectedError{StatusCode: sErr.StatusCode, Body: sErr.Body}
		}

		lastErr = err
		c.log.Warn("confirm payment attempt failed",
			"session_id", c.session.ID,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return nil, fmt.Errorf("%w: %v", errBackendUnreachable, lastErr)
}

// apply advances the state machine by one event and persists the new status.
func (c *Controller) apply(ev Event) error {
	next, err := Next(c.session.Status, ev)
	if err != nil {
		return err
	}
	c.setStatus(next, Outcome{})
	return nil
}

func (c *Controller) fail(out Outcome) {
	if c.session.Status.Terminal() {
		return
	}
	next, err := Next(c.session.Status, EventFailed)
	if err != nil {
		// Only reachable from a terminal state, which is checked above.
		c.log.Error("fail transition", "session_id", c.session.ID, "error", err)
		return
	}
	c.setStatus(next, out)
	c.log.Info("payment failed",
		"session_id", c.session.ID,
		"reason", string(out.Reason),
	)
}

func (c *Controller) setStatus(next Status, out Outcome) {
	c.mu.Lock()
	c.session.Status = next
	if out != (Outcome{}) {
		c.session.Outcome = out
	}
	c.mu.Unlock()

	c.log.Debug("session transition",
		"session_id", c.session.ID,
		"status", string(next),
	)
	if err := c.store.UpdateSessionStatus(c.session.ID, next, out); err != nil {
		c.log.Error("persist session status", "session_id", c.session.ID, "error", err)
	}
}
