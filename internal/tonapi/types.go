package tonapi

import (
	"encoding/json"
	"fmt"
)

func unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// JettonInfo contains jetton metadata
type JettonInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Image    string `json:"image,omitempty"`
}

// JettonBalance is one jetton held by an account, together with the
// sub-wallet contract that holds it.
type JettonBalance struct {
	Balance       string     `json:"balance"` // minor units, decimal string
	WalletAddress Account    `json:"wallet_address"`
	Jetton        JettonInfo `json:"jetton"`
}

// JettonBalancesResponse is the response from the account jettons endpoint
type JettonBalancesResponse struct {
	Balances []JettonBalance `json:"balances"`
}

// Account represents an account/wallet
type Account struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	IsScam   bool   `json:"is_scam,omitempty"`
	IsWallet bool   `json:"is_wallet,omitempty"`
}

// AccountInfo contains account information
type AccountInfo struct {
	Address string `json:"address"` // raw format
	Balance int64  `json:"balance"`
	Status  string `json:"status"`
}

// Event represents a TonAPI event
type Event struct {
	EventID    string   `json:"event_id"`
	Timestamp  int64    `json:"timestamp"`
	Actions    []Action `json:"actions"`
	IsScam     bool     `json:"is_scam"`
	InProgress bool     `json:"in_progress"`
}

// Action represents an action within an event
type Action struct {
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	TonTransfer    *TonTransfer    `json:"TonTransfer,omitempty"`
	JettonTransfer *JettonTransfer `json:"JettonTransfer,omitempty"`
}

// TonTransfer represents a TON transfer action
type TonTransfer struct {
	Sender    Account `json:"sender"`
	Recipient Account `json:"recipient"`
	Amount    int64   `json:"amount"` // in nanoTON
	Comment   string  `json:"comment,omitempty"`
}

// JettonTransfer represents a jetton transfer action
type JettonTransfer struct {
	Sender    Account    `json:"sender"`
	Recipient Account    `json:"recipient"`
	Amount    string     `json:"amount"` // minor units, decimal string
	Comment   string     `json:"comment,omitempty"`
	Jetton    JettonInfo `json:"jetton"`
}

// EventsResponse is the response from events endpoint
type EventsResponse struct {
	Events []Event `json:"events"`
}
