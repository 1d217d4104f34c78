package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.StatusCode, e.Body)
}

// Client is the ledger backend HTTP client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new backend client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, identity Identity, body interface{}) ([]byte, error) {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if identity.Raw != "" {
		req.Header.Set("X-Identity", identity.Raw)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	return data, nil
}

// ConfirmPayment reports a submitted wallet payment. Not guaranteed
// idempotent server-side; callers must reuse the same order id on retry so
// the backend can deduplicate.
func (c *Client) ConfirmPayment(ctx context.Context, identity Identity, req ConfirmRequest) (*ConfirmResponse, error) {
	data, err := c.doRequest(ctx, "POST", "/payments/confirm", identity, req)
	if err != nil {
		return nil, err
	}

	var resp ConfirmResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &resp, nil
}

// CreateDeposit requests a one-time exchange deposit address/memo pair.
func (c *Client) CreateDeposit(ctx context.Context, identity Identity, req CreateDepositRequest) (*Deposit, error) {
	data, err := c.doRequest(ctx, "POST", "/exchange/deposits", identity, req)
	if err != nil {
		return nil, err
	}

	var dep Deposit
	if err := json.Unmarshal(data, &dep); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &dep, nil
}

// VerifyDeposit asks the backend whether the deposit arrived.
func (c *Client) VerifyDeposit(ctx context.Context, identity Identity, req VerifyDepositRequest) (*VerifyDepositResponse, error) {
	data, err := c.doRequest(ctx, "POST", "/exchange/deposits/verify", identity, req)
	if err != nil {
		return nil, err
	}

	var resp VerifyDepositResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &resp, nil
}
