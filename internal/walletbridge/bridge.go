// Package walletbridge models the connected wallet as an awaited suspension
// point. The core never talks to a wallet extension directly: it hands a
// transaction request to a Bridge and waits for the opaque result, and the
// wait is cancellable so teardown is structural.
package walletbridge

import (
	"context"
	"errors"
	"sync"
)

// Message is one message of a transaction request. Amount is the attached
// TON gas in nanoton, as a string; Payload is the base64-encoded BOC.
type Message struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Payload string `json:"payload"`
}

// Request is a TON Connect style transaction request.
type Request struct {
	ValidUntil int64     `json:"valid_until"` // unix seconds
	Messages   []Message `json:"messages"`
}

// Result is the opaque outcome of a signed and submitted transaction.
type Result struct {
	BOC string `json:"boc"`
}

// Bridge submits a transaction request to the user's wallet and blocks until
// the wallet answers or ctx is cancelled.
type Bridge interface {
	SendTransaction(ctx context.Context, req Request) (*Result, error)
}

// ErrClosed is returned when a relay is answered more than once. A session
// that already resolved discards the late answer.
var ErrClosed = errors.New("walletbridge: relay closed")

type answer struct {
	result *Result
	err    error
}

// Relay is an in-process Bridge: SendTransaction parks until another party
// (an HTTP handler, a test) calls Deliver or Reject exactly once.
type Relay struct {
	mu      sync.Mutex
	pending *Request
	done    bool
	ch      chan answer
}

func NewRelay() *Relay {
	return &Relay{ch: make(chan answer, 1)}
}

// SendTransaction parks until Deliver/Reject or ctx cancellation.
func (r *Relay) SendTransaction(ctx context.Context, req Request) (*Result, error) {
	r.mu.Lock()
	r.pending = &req
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a := <-r.ch:
		return a.result, a.err
	}
}

// Pending returns the request currently awaiting an answer, if any.
func (r *Relay) Pending() *Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Deliver resolves the waiting SendTransaction with a wallet result.
func (r *Relay) Deliver(res Result) error {
	return r.resolve(answer{result: &res})
}

// Reject resolves the waiting SendTransaction with an error.
func (r *Relay) Reject(err error) error {
	return r.resolve(answer{err: err})
}

func (r *Relay) resolve(a answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return ErrClosed
	}
	r.done = true
	r.ch <- a
	return nil
}
