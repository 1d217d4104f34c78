package backend

import "time"

// Identity authenticates the buyer to the ledger backend. Raw is sent as the
// identity header; the individual fields ride along in request bodies.
type Identity struct {
	Raw    string `json:"-"`
	UserID string `json:"user_id"`
}

// ConfirmRequest reports a submitted wallet payment for reconciliation. The
// order id is the session's correlation id, which the backend also sees as
// the on-chain transfer comment.
type ConfirmRequest struct {
	OrderID      string `json:"order_id"`
	OwnerAddress string `json:"owner_address"`
	ProductRef   string `json:"product_ref"`
	Amount       string `json:"amount"` // decimal string, major units
	UserID       string `json:"user_id"`
}

// ConfirmResponse carries the token the front-end uses to show success.
type ConfirmResponse struct {
	Token string `json:"token"`
}

// CreateDepositRequest asks for a one-time exchange deposit address. Memo is
// the session's correlation id; without it the backend cannot match the
// deposit to an order.
type CreateDepositRequest struct {
	Memo       string `json:"memo"`
	ProductRef string `json:"product_ref"`
	Amount     string `json:"amount"` // decimal string, major units
	UserID     string `json:"user_id"`
}

// Deposit is a created exchange deposit.
type Deposit struct {
	DepositAddress string    `json:"deposit_address"`
	Memo           string    `json:"memo"`
	Network        string    `json:"network"`
	Amount         string    `json:"amount"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// VerifyDepositRequest asks the backend whether a deposit arrived. Amount and
// expiry checks are the backend's contract; the client sends only the address
// and identity.
type VerifyDepositRequest struct {
	DepositAddress string `json:"deposit_address"`
	UserID         string `json:"user_id"`
}

// VerifyDepositResponse reports the backend's verdict.
type VerifyDepositResponse struct {
	Success bool `json:"success"`
}
