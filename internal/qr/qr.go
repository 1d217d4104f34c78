package qr

import (
	"fmt"
	"net/url"

	qrcode "github.com/skip2/go-qrcode"
)

// DepositPNG renders a scannable PNG for an exchange deposit. The memo rides
// in the transfer URI so wallets that honor it prefill the comment.
func DepositPNG(address, memo string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	uri := fmt.Sprintf("ton://transfer/%s?text=%s", address, url.QueryEscape(memo))
	return qrcode.Encode(uri, qrcode.Medium, size)
}
