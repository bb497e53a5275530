// Package purchase bridges the payment gateway and the ledger. The gateway's
// verification endpoint is the single source of truth for what a receipt is
// worth; the ledger only ever credits verified records.
package purchase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Verified is the gateway's attested view of one purchase.
type Verified struct {
	ExternalReference string `json:"external_reference"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	State             string `json:"state"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 32,
		},
		timeout:  10 * time.Second,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health pings the gateway's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, nil)
}

// Verify asks the gateway to attest the receipt behind externalRef. Gateway
// 5xx responses retry with backoff; 4xx responses fail immediately.
func (c *Client) Verify(ctx context.Context, externalRef string) (*Verified, error) {
	var v Verified
	path := "/v1/purchases/" + externalRef + "/verify"
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.deadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("payment gateway request: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if serr := sleepWithContext(ctx, backoff(attempt)); serr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("payment gateway error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || status < 500 {
				return lastErr
			}
			if serr := sleepWithContext(ctx, backoff(attempt)); serr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode gateway response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		attempt = 5
	}
	return time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
