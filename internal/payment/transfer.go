package payment

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// TEP-74 jetton transfer operation tag.
const opJettonTransfer = 0x0f8a7ea5

// Text comment tag for the forward payload.
const opTextComment = 0x00000000

// commentPrefix is prepended to the correlation id inside the forward
// comment so the backend can pick order payments out of arbitrary transfers.
const commentPrefix = "orderId:"

// TransferOpts are the optional fields of a jetton transfer body.
type TransferOpts struct {
	// QueryID is echoed back in transfer notifications. Zero is fine.
	QueryID uint64

	// ResponseDestination receives excess gas. Usually the payer's own
	// wallet; addr_none when empty.
	ResponseDestination string

	// ForwardAmountNano is the nanoton amount forwarded to the recipient
	// together with the comment. Must be at least 1 for the recipient's
	// wallet to receive a transfer notification.
	ForwardAmountNano int64
}

// BuildTransfer encodes the TEP-74 jetton transfer body carrying the
// correlation id as a plain text comment. Pure and deterministic: identical
// inputs produce byte-identical BOCs, which is what makes the signed payload
// auditable. All validation happens before the first bit is written; on a
// validation error no partial output exists.
func BuildTransfer(recipientOwner string, amountMinorUnits *big.Int, correlationID string, opts TransferOpts) ([]byte, error) {
	if amountMinorUnits == nil || amountMinorUnits.Sign() <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be a positive integer of minor units"}
	}
	if correlationID == "" {
		return nil, &ValidationError{Field: "correlationId", Reason: "must not be empty"}
	}

	dest, err := address.ParseAddr(recipientOwner)
	if err != nil {
		return nil, &ValidationError{Field: "recipientOwner", Reason: fmt.Sprintf("not a valid TON address: %v", err)}
	}

	var respDest *address.Address
	if opts.ResponseDestination != "" {
		respDest, err = address.ParseAddr(opts.ResponseDestination)
		if err != nil {
			return nil, &ValidationError{Field: "responseDestination", Reason: fmt.Sprintf("not a valid TON address: %v", err)}
		}
	}

	forward := opts.ForwardAmountNano
	if forward <= 0 {
		forward = 1
	}

	comment := cell.BeginCell().
		MustStoreUInt(opTextComment, 32).
		MustStoreStringSnake(commentPrefix + correlationID).
		EndCell()

	body := cell.BeginCell().
		MustStoreUInt(opJettonTransfer, 32).
		MustStoreUInt(opts.QueryID, 64).
		MustStoreBigCoins(amountMinorUnits).
		MustStoreAddr(dest).
		MustStoreAddr(respDest). // addr_none when nil
		MustStoreBoolBit(false). // no custom payload
		MustStoreCoins(uint64(forward)).
		MustStoreBoolBit(true). // forward payload in ref
		MustStoreRef(comment).
		EndCell()

	return body.ToBOC(), nil
}

// DecodedTransfer is the audit view of a transfer body: exactly what a wallet
// is being asked to sign.
type DecodedTransfer struct {
	QueryID             uint64
	AmountMinorUnits    *big.Int
	Destination         string
	ResponseDestination string
	ForwardAmountNano   *big.Int
	ForwardComment      string
}

// DecodeTransfer parses a BOC produced by BuildTransfer back into its fields.
func DecodeTransfer(boc []byte) (*DecodedTransfer, error) {
	c, err := cell.FromBOC(boc)
	if err != nil {
		return nil, fmt.Errorf("parse boc: %w", err)
	}

	s := c.BeginParse()

	op, err := s.LoadUInt(32)
	if err != nil {
		return nil, fmt.Errorf("load op: %w", err)
	}
	if op != opJettonTransfer {
		return nil, fmt.Errorf("unexpected op 0x%08x, want jetton transfer", op)
	}

	queryID, err := s.LoadUInt(64)
	if err != nil {
		return nil, fmt.Errorf("load query id: %w", err)
	}

	amount, err := s.LoadBigCoins()
	if err != nil {
		return nil, fmt.Errorf("load amount: %w", err)
	}

	dest, err := s.LoadAddr()
	if err != nil {
		return nil, fmt.Errorf("load destination: %w", err)
	}

	respDest, err := s.LoadAddr()
	if err != nil {
		return nil, fmt.Errorf("load response destination: %w", err)
	}

	hasCustom, err := s.LoadBoolBit()
	if err != nil {
		return nil, fmt.Errorf("load custom payload flag: %w", err)
	}
	if hasCustom {
		if _, err := s.LoadRef(); err != nil {
			return nil, fmt.Errorf("load custom payload: %w", err)
		}
	}

	forward, err := s.LoadBigCoins()
	if err != nil {
		return nil, fmt.Errorf("load forward amount: %w", err)
	}

	dec := &DecodedTransfer{
		QueryID:           queryID,
		AmountMinorUnits:  amount,
		Destination:       dest.String(),
		ForwardAmountNano: forward,
	}
	if respDest.Type() != address.NoneAddress {
		dec.ResponseDestination = respDest.String()
	}

	inRef, err := s.LoadBoolBit()
	if err != nil {
		return nil, fmt.Errorf("load forward payload flag: %w", err)
	}
	if inRef {
		ref, err := s.LoadRef()
		if err != nil {
			return nil, fmt.Errorf("load forward payload: %w", err)
		}
		tag, err := ref.LoadUInt(32)
		if err != nil {
			return nil, fmt.Errorf("load comment tag: %w", err)
		}
		if tag == opTextComment {
			text, err := ref.LoadStringSnake()
			if err != nil {
				return nil, fmt.Errorf("load comment text: %w", err)
			}
			dec.ForwardComment = text
		}
	}

	return dec, nil
}

// ForwardComment is the exact comment string a transfer for the given
// correlation id carries on chain.
func ForwardComment(correlationID string) string {
	return commentPrefix + correlationID
}
