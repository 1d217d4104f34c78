package payment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a payment session. Transitions are
// monotonic: a session never moves backwards, and the terminal statuses are
// absorbing.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusWalletDiscovery   Status = "wallet_discovery"
	StatusPayloadBuilding   Status = "payload_building"
	StatusAwaitingSignature Status = "awaiting_wallet_signature"
	StatusSubmittedToChain  Status = "submitted_to_chain"
	StatusAwaitingConfirm   Status = "awaiting_server_confirmation"
	StatusSucceeded         Status = "succeeded"
	StatusFailed            Status = "failed"
)

// Terminal reports whether no further transition is possible. StatusExpired
// belongs to the deposit flow, where it is terminal but not a failure.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusExpired
}

// Event is an input to the session state machine.
type Event string

const (
	EventStart           Event = "start"
	EventWalletsResolved Event = "wallets_resolved"
	EventPayloadBuilt    Event = "payload_built"
	EventSigned          Event = "signed"
	EventSubmitted       Event = "submitted"
	EventConfirmed       Event = "confirmed"
	EventFailed          Event = "failed"
)

// transitions holds the legal (state, event) -> state table. EventFailed is
// legal from every non-terminal state so nothing can get stuck.
var transitions = map[Status]map[Event]Status{
	StatusIdle: {
		EventStart: StatusWalletDiscovery,
	},
	StatusWalletDiscovery: {
		EventWalletsResolved: StatusPayloadBuilding,
	},
	StatusPayloadBuilding: {
		EventPayloadBuilt: StatusAwaitingSignature,
	},
	StatusAwaitingSignature: {
		EventSigned: StatusSubmittedToChain,
	},
	StatusSubmittedToChain: {
		EventSubmitted: StatusAwaitingConfirm,
	},
	StatusAwaitingConfirm: {
		EventConfirmed: StatusSucceeded,
	},
}

// Next is the pure transition function. It returns an error for any (state,
// event) pair outside the table, which keeps illegal transitions (including
// anything out of a terminal state) impossible rather than merely unlikely.
func Next(s Status, ev Event) (Status, error) {
	if s.Terminal() {
		return s, fmt.Errorf("session is terminal in %q", s)
	}
	if ev == EventFailed {
		return StatusFailed, nil
	}
	next, ok := transitions[s][ev]
	if !ok {
		return s, fmt.Errorf("illegal transition: %q on %q", ev, s)
	}
	return next, nil
}

// Method is how the user pays.
type Method string

const (
	MethodWallet   Method = "wallet"
	MethodExchange Method = "exchange"
)

// Session is one payment attempt. Owned by exactly one controller; the
// correlation id is issued once at creation and never reused.
type Session struct {
	ID            string          `json:"id"`
	UserKey       string          `json:"user_key"`
	ProductType   string          `json:"product_type"`
	ProductID     string          `json:"product_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        Method          `json:"method"`
	Status        Status          `json:"status"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`

	Outcome Outcome `json:"outcome,omitempty"`
}

// ProductRef is the backend's reference for what is being bought.
func (s *Session) ProductRef() string {
	return s.ProductType + ":" + s.ProductID
}

// JettonWalletRef is an immutable snapshot of the token sub-wallet resolved
// for an owner. Not cached beyond one session.
type JettonWalletRef struct {
	OwnerAddress        string
	JettonWalletAddress string
	TokenSymbol         string
	Decimals            int
}
