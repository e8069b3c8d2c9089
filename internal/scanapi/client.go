package scanapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to an Etherscan-compatible explorer API. It is used by the
// observer to list transactions sent to the presale contract.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	// minimum gap between requests, free-tier explorers rate limit hard
	throttle time.Duration
	lastReq  time.Time
}

// Transaction is one entry of the explorer's account tx list.
type Transaction struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"` // wei, decimal string
	IsError         string `json:"isError"`
	TxReceiptStatus string `json:"txreceipt_status"`
	FunctionName    string `json:"functionName"`
	MethodID        string `json:"methodId"`
	TimeStamp       string `json:"timeStamp"` // unix seconds, decimal string
	BlockNumber     string `json:"blockNumber"`
}

type txListResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// NewClient creates an explorer client. apiKey may be empty for explorers that
// allow anonymous access.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		throttle: 250 * time.Millisecond,
	}
}

// ListTransactions returns normal transactions sent to address, oldest first,
// starting at startBlock.
func (c *Client) ListTransactions(ctx context.Context, address string, startBlock uint64) ([]Transaction, error) {
	if wait := c.throttle - time.Since(c.lastReq); wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	c.lastReq = time.Now()

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "txlist")
	params.Set("address", address)
	params.Set("startblock", fmt.Sprintf("%d", startBlock))
	params.Set("endblock", "99999999")
	params.Set("sort", "asc")
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("explorer returned %d: %s", resp.StatusCode, body)
	}

	var parsed txListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode explorer response: %w", err)
	}

	// Status "0" with "No transactions found" is an empty page, not an error.
	if parsed.Status != "1" {
		if parsed.Message == "No transactions found" {
			return nil, nil
		}
		return nil, fmt.Errorf("explorer error: %s", parsed.Message)
	}

	var txs []Transaction
	if err := json.Unmarshal(parsed.Result, &txs); err != nil {
		return nil, fmt.Errorf("decode explorer result: %w", err)
	}

	return txs, nil
}
