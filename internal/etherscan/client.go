// Package etherscan fetches wallet transaction histories from an
// Etherscan-compatible indexing API.
package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/walletrisk/internal/circuitbreaker"
	"github.com/mbd888/walletrisk/internal/logging"
	"github.com/mbd888/walletrisk/internal/metrics"
	"github.com/mbd888/walletrisk/internal/retry"
)

// ErrCircuitOpen is returned when the upstream API has failed repeatedly and
// calls are being rejected until the cooldown elapses.
var ErrCircuitOpen = errors.New("etherscan circuit open")

// breakerKey identifies the single upstream endpoint in the breaker.
const breakerKey = "txlist"

// Transaction is a single transaction as reported by the txlist endpoint.
// Numeric fields arrive as decimal strings and are kept that way; the
// feature extractor parses what it needs.
type Transaction struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"` // wei, decimal string
	Input       string `json:"input"` // call data, 0x-prefixed hex
	IsError     string `json:"isError"`
	TimeStamp   string `json:"timeStamp"`
	BlockNumber string `json:"blockNumber"`
}

type txListResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Client is a rate-paced Etherscan API client. All calls through one Client
// are spaced at least Pace apart, matching the upstream per-key rate limit.
type Client struct {
	baseURL string
	apiKey  string
	pace    time.Duration
	retries int
	http    *http.Client
	breaker *circuitbreaker.Breaker

	mu       sync.Mutex
	lastCall time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithPace sets the minimum spacing between API calls.
func WithPace(d time.Duration) Option {
	return func(c *Client) { c.pace = d }
}

// WithRetries sets the max attempts per request.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithBreaker overrides the default circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// New creates an Etherscan client for the given endpoint and API key.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		pace:    200 * time.Millisecond,
		retries: 3,
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TxList returns the full normal-transaction history for a wallet, oldest
// first. A wallet with no recorded transactions returns an empty slice, not
// an error.
func (c *Client) TxList(ctx context.Context, address string) ([]Transaction, error) {
	var txs []Transaction

	err := retry.Do(ctx, c.retries, c.pace, func() error {
		if !c.breaker.Allow(breakerKey) {
			metrics.EtherscanRequestsTotal.WithLabelValues("rejected").Inc()
			return retry.Permanent(ErrCircuitOpen)
		}

		c.waitTurn(ctx)

		start := time.Now()
		result, err := c.fetchTxList(ctx, address)
		metrics.EtherscanRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			c.breaker.RecordFailure(breakerKey)
			metrics.EtherscanRequestsTotal.WithLabelValues("error").Inc()
			return err
		}
		c.breaker.RecordSuccess(breakerKey)
		metrics.EtherscanRequestsTotal.WithLabelValues("ok").Inc()
		txs = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("etherscan txlist %s: %w", address, err)
	}

	logging.L(ctx).Debug("fetched transaction history",
		"address", address, "tx_count", len(txs))
	return txs, nil
}

func (c *Client) fetchTxList(ctx context.Context, address string) ([]Transaction, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("sort", "asc")
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("upstream rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}

	var envelope txListResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// Etherscan reports errors in-band with status "0". An empty history is
	// not an error; a bad key is never worth retrying.
	if envelope.Status != "1" {
		switch {
		case strings.Contains(envelope.Message, "No transactions found"):
			return []Transaction{}, nil
		case strings.Contains(envelope.Message, "rate limit"):
			return nil, fmt.Errorf("api rate limit: %s", envelope.Message)
		case strings.Contains(envelope.Message, "Invalid API Key"):
			return nil, retry.Permanent(fmt.Errorf("invalid api key"))
		default:
			return nil, fmt.Errorf("api error: %s", envelope.Message)
		}
	}

	var txs []Transaction
	if err := json.Unmarshal(envelope.Result, &txs); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return txs, nil
}

// waitTurn blocks until at least pace has passed since the previous call.
func (c *Client) waitTurn(ctx context.Context) {
	c.mu.Lock()
	wait := c.pace - time.Since(c.lastCall)
	if wait < 0 {
		wait = 0
	}
	c.lastCall = time.Now().Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
