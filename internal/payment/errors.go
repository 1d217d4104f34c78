package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTokenWallet means the account holds no sub-wallet for the requested
	// token. This is an expected business outcome, not a transport failure.
	ErrNoTokenWallet = errors.New("no jetton wallet for token")

	// ErrSessionInFlight is returned when a second session is started for a
	// user context whose previous session has not reached a terminal status.
	ErrSessionInFlight = errors.New("payment session already in flight")

	// ErrSessionNotFound is returned for lookups of unknown sessions or deposits.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDepositExpired means the deposit window elapsed. Terminal, expected.
	ErrDepositExpired = errors.New("deposit window expired")
)

// ValidationError reports bad input. It is raised before any encoding or
// network work happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NetworkError wraps a transient transport failure. Safe to retry for
// read-only operations.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// WalletRejectedError means the user (or their wallet) declined to sign.
type WalletRejectedError struct {
	Cause string
}

func (e *WalletRejectedError) Error() string {
	return fmt.Sprintf("wallet rejected transaction: %s", e.Cause)
}

// BackendRejectedError means the ledger backend refused the confirmation.
type BackendRejectedError struct {
	StatusCode int
	Body       string
}

func (e *BackendRejectedError) Error() string {
	return fmt.Sprintf("backend rejected payment (status %d): %s", e.StatusCode, e.Body)
}

// FailureReason is the machine-readable reason attached to a terminal Failed
// status.
type FailureReason string

const (
	ReasonNoTokenWallet      FailureReason = "no-token-wallet"
	ReasonWalletRejected     FailureReason = "wallet-rejected"
	ReasonBackendRejected    FailureReason = "backend-rejected"
	ReasonBackendUnreachable FailureReason = "backend-unreachable"
	ReasonNetworkError       FailureReason = "network-error"
	ReasonValidationFailed   FailureReason = "validation-failed"
	ReasonCancelled          FailureReason = "cancelled"
	ReasonInternal           FailureReason = "internal-error"
)

// Outcome describes how a session ended. Every failure carries an actionable
// next step so no session is ever silently stuck.
type Outcome struct {
	Reason   FailureReason `json:"reason,omitempty"`
	Message  string        `json:"message,omitempty"`
	NextStep string        `json:"next_step,omitempty"`

	// ConfirmationToken is set on success only.
	ConfirmationToken string `json:"confirmation_token,omitempty"`
}

// outcomeFor maps a step error to a terminal failure outcome.
func outcomeFor(err error) Outcome {
	var vErr *ValidationError
	var wErr *WalletRejectedError
	var bErr *BackendRejectedError
	var nErr *NetworkError

	switch {
	case errors.Is(err, ErrNoTokenWallet):
		return Outcome{
			Reason:   ReasonNoTokenWallet,
			Message:  err.Error(),
			NextStep: "top up the token balance or pay via exchange deposit",
		}
	case errors.As(err, &wErr):
		return Outcome{
			Reason:   ReasonWalletRejected,
			Message:  err.Error(),
			NextStep: "retry and approve the transaction in your wallet",
		}
	case errors.As(err, &bErr):
		return Outcome{
			Reason:   ReasonBackendRejected,
			Message:  err.Error(),
			NextStep: "contact support with your order id",
		}
	case errors.As(err, &nErr):
		return Outcome{
			Reason:   ReasonNetworkError,
			Message:  err.Error(),
			NextStep: "check your connection and retry",
		}
	case errors.As(err, &vErr):
		return Outcome{
			Reason:   ReasonValidationFailed,
			Message:  err.Error(),
			NextStep: "fix the checkout parameters and retry",
		}
	case errors.Is(err, errBackendUnreachable):
		return Outcome{
			Reason:   ReasonBackendUnreachable,
			Message:  err.Error(),
			NextStep: "your transfer was submitted; retry confirmation with the same order id",
		}
	default:
		return Outcome{
			Reason:   ReasonInternal,
			Message:  err.Error(),
			NextStep: "retry with a new session or contact support",
		}
	}
}

// errBackendUnreachable signals exhausted confirmation retries.
var errBackendUnreachable = errors.New("backend unreachable after retries")
