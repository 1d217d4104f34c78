package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/tlb"

	"github.com/suspectuso/ton-checkout/internal/backend"
	"github.com/suspectuso/ton-checkout/internal/config"
	"github.com/suspectuso/ton-checkout/internal/tonapi"
	"github.com/suspectuso/ton-checkout/internal/walletbridge"
)

// Store is the persistence surface the service needs.
type Store interface {
	SessionStore
	CreateSession(s *Session) error
	GetSession(id string) (*Session, error)
}

// BackendAPI is the full ledger backend surface.
type BackendAPI interface {
	Confirmer
	DepositAPI
}

// CheckoutRequest starts a payment attempt for one product.
type CheckoutRequest struct {
	UserKey      string
	ProductType  string
	ProductID    string
	Amount       decimal.Decimal
	PayerAddress string // wallet flow only
}

// Service owns all live payment work. It enforces the one-active-session-per
// user-context rule structurally: a second StartSession while the first is in
// flight returns ErrSessionInFlight, independent of any UI-side guard.
type Service struct {
	cfg      *config.Config
	store    Store
	resolver WalletResolver
	api      BackendAPI
	log      *slog.Logger

	gasNano string
	baseCtx context.Context

	mu       sync.Mutex
	active   map[string]*Controller
	deposits map[string]*DepositCoordinator // by session id
}

// NewService wires the payment service. baseCtx bounds all background work
// started by the service.
func NewService(baseCtx context.Context, cfg *config.Config, store Store,
	resolver WalletResolver, api BackendAPI, log *slog.Logger) (*Service, error) {

	gas, err := tlb.FromTON(cfg.GasAmountTON)
	if err != nil {
		return nil, fmt.Errorf("parse GAS_AMOUNT_TON: %w", err)
	}

	return &Service{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		api:      api,
		log:      log,
		gasNano:  gas.Nano().String(),
		baseCtx:  baseCtx,
		active:   make(map[string]*Controller),
		deposits: make(map[string]*DepositCoordinator),
	}, nil
}

func validateCheckout(req CheckoutRequest, wantPayer bool) error {
	if req.UserKey == "" {
		return &ValidationError{Field: "userKey", Reason: "must not be empty"}
	}
	if req.ProductType == "" || req.ProductID == "" {
		return &ValidationError{Field: "product", Reason: "type and id are required"}
	}
	if req.Amount.Sign() <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if wantPayer && !tonapi.IsValidAddress(req.PayerAddress) {
		return &ValidationError{Field: "payerAddress", Reason: "not a valid TON address"}
	}
	return nil
}

func newSession(req CheckoutRequest, method Method, now time.Time) *Session {
	return &Session{
		ID:            NewCorrelationID(),
		UserKey:       req.UserKey,
		ProductType:   req.ProductType,
		ProductID:     req.ProductID,
		Amount:        req.Amount,
		Method:        method,
		Status:        StatusIdle,
		CorrelationID: NewCorrelationID(),
		CreatedAt:     now,
	}
}

// StartSession begins a wallet payment attempt. The returned controller is
// already running; callers observe it via Session, Done and Cancel.
func (s *Service) StartSession(identity backend.Identity, req CheckoutRequest, bridge walletbridge.Bridge) (*Controller, error) {
	if err := validateCheckout(req, true); err != nil {
		return nil, err
	}

	sess := newSession(req, MethodWallet, time.Now())

	ctl := NewController(sess, identity, ControllerConfig{
		PayerAddress:      req.PayerAddress,
		MerchantAddress:   s.cfg.MerchantAddress,
		TokenSymbol:       s.cfg.TokenSymbol,
		GasAmountNano:     s.gasNano,
		ForwardAmountNano: s.cfg.ForwardAmountNano,
		SignatureWindow:   s.cfg.SignatureWindow,
	}, s.resolver, bridge, s.api, s.store, s.log)

	s.mu.Lock()
	if prev, ok := s.active[req.UserKey]; ok && !prev.Session().Status.Terminal() {
		s.mu.Unlock()
		return nil, ErrSessionInFlight
	}
	s.active[req.UserKey] = ctl
	s.mu.Unlock()

	if err := s.store.CreateSession(sess); err != nil {
		s.release(req.UserKey)
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info("session started",
		"session_id", sess.ID,
		"user", req.UserKey,
		"product", sess.ProductRef(),
	)

	go func() {
		ctl.Run(s.baseCtx)
		s.release(req.UserKey)
	}()

	return ctl, nil
}

// OpenDeposit begins an exchange deposit attempt: the sibling flow, same
// correlation id concept, no wallet or chain steps.
func (s *Service) OpenDeposit(ctx context.Context, identity backend.Identity, req CheckoutRequest) (*DepositCoordinator, *Instructions, error) {
	if err := validateCheckout(req, false); err != nil {
		return nil, nil, err
	}

	sess := newSession(req, MethodExchange, time.Now())
	if err := s.store.CreateSession(sess); err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	coord := NewDepositCoordinator(sess, identity, s.api, s.store, s.cfg.DepositWindow, s.log)
	instr, err := coord.Open(ctx)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.deposits[sess.ID] = coord
	s.mu.Unlock()

	// Terminal coordinators leave the live map; the persisted session keeps
	// answering later lookups.
	go func() {
		<-coord.Done()
		s.releaseDeposit(sess.ID)
	}()

	return coord, instr, nil
}

// Controller returns the live controller for a user context, if any.
func (s *Service) Controller(userKey string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctl, ok := s.active[userKey]
	return ctl, ok
}

// Deposit returns the live coordinator for a session id.
func (s *Service) Deposit(sessionID string) (*DepositCoordinator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coord, ok := s.deposits[sessionID]
	return coord, ok
}

// ActiveDeposits returns all deposits still awaiting funds.
func (s *Service) ActiveDeposits() []*DepositCoordinator {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*DepositCoordinator
	for _, coord := range s.deposits {
		if !coord.Session().Status.Terminal() {
			out = append(out, coord)
		}
	}
	return out
}

// GetSession loads a session, live or persisted.
func (s *Service) GetSession(id string) (*Session, error) {
	s.mu.Lock()
	for _, ctl := range s.active {
		if ctl.Session().ID == id {
			sess := ctl.Session()
			s.mu.Unlock()
			return sess, nil
		}
	}
	if coord, ok := s.deposits[id]; ok {
		sess := coord.Session()
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	return s.store.GetSession(id)
}

// Shutdown cancels all live work.
func (s *Service) Shutdown() {
	s.mu.Lock()
	ctls := make([]*Controller, 0, len(s.active))
	for _, ctl := range s.active {
		ctls = append(ctls, ctl)
	}
	coords := make([]*DepositCoordinator, 0, len(s.deposits))
	for _, coord := range s.deposits {
		coords = append(coords, coord)
	}
	s.mu.Unlock()

	for _, ctl := range ctls {
		ctl.Cancel()
	}
	for _, coord := range coords {
		coord.Close()
	}
}

func (s *Service) release(userKey string) {
	s.mu.Lock()
	delete(s.active, userKey)
	s.mu.Unlock()
}

func (s *Service) releaseDeposit(sessionID string) {
	s.mu.Lock()
	delete(s.deposits, sessionID)
	s.mu.Unlock()
}
