package chain

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/orbitpay/keeper/pkg/contracts"
)

// Signer signs the canonical request body so the gateway can attribute the
// transaction to the keeper's executor identity.
type Signer interface {
	Address() contracts.Address
	Sign(payload []byte) (string, error)
}

// RPCClientConfig configures the gateway client.
type RPCClientConfig struct {
	BaseURL        string
	GasCeiling     uint64
	RequestTimeout time.Duration
	SettleTimeout  time.Duration
	SettlePoll     time.Duration
	MaxRetries     int
}

// DefaultRPCClientConfig returns workable defaults for a public gateway.
func DefaultRPCClientConfig(baseURL string) RPCClientConfig {
	return RPCClientConfig{
		BaseURL:        baseURL,
		GasCeiling:     500_000,
		RequestTimeout: 15 * time.Second,
		SettleTimeout:  2 * time.Minute,
		SettlePoll:     3 * time.Second,
		MaxRetries:     3,
	}
}

// RPCClient talks to the ledger through an HTTP gateway. Transient faults
// are retried with exponential backoff and jitter behind a circuit breaker;
// authoritative refusals and gas-ceiling violations are surfaced as typed
// errors so the dispatcher can classify them.
type RPCClient struct {
	cfg     RPCClientConfig
	http    *http.Client
	signer  Signer
	breaker *circuitBreaker
	logger  *slog.Logger
}

// NewRPCClient creates a gateway client for the given executor identity.
func NewRPCClient(cfg RPCClientConfig, signer Signer) *RPCClient {
	return &RPCClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		signer:  signer,
		breaker: newCircuitBreaker("ledger-gateway", 5, 10*time.Second),
		logger:  slog.Default().With("component", "chain.rpc"),
	}
}

// problemDetail mirrors the gateway's RFC 7807 error body.
type problemDetail struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
	// Populated when Code == "gas_exceeded".
	GasWanted uint64 `json:"gas_wanted,omitempty"`
}

type submitResponse struct {
	TxHash string `json:"tx_hash"`
}

type txStatusResponse struct {
	Status    string    `json:"status"` // "pending" | "settled" | "rejected"
	Reason    string    `json:"reason,omitempty"`
	Reward    int64     `json:"reward,omitempty"`
	GasUsed   uint64    `json:"gas_used,omitempty"`
	SettledAt time.Time `json:"settled_at,omitempty"`
}

func (c *RPCClient) ExecutePayment(ctx context.Context, id contracts.ScheduleID) (*Settlement, error) {
	body := map[string]any{"gas_ceiling": c.cfg.GasCeiling}
	var resp submitResponse
	if err := c.post(ctx, fmt.Sprintf("/v1/schedules/%s/execute", id), body, &resp); err != nil {
		return nil, err
	}
	return c.awaitSettlement(ctx, resp.TxHash)
}

func (c *RPCClient) CancelPaymentSchedule(ctx context.Context, id contracts.ScheduleID) error {
	var resp submitResponse
	if err := c.post(ctx, fmt.Sprintf("/v1/schedules/%s/cancel", id), map[string]any{}, &resp); err != nil {
		return err
	}
	_, err := c.awaitSettlement(ctx, resp.TxHash)
	return err
}

func (c *RPCClient) IsPaymentDue(ctx context.Context, id contracts.ScheduleID) (bool, error) {
	var resp struct {
		Due bool `json:"due"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v1/schedules/%s/due", id), &resp); err != nil {
		return false, err
	}
	return resp.Due, nil
}

func (c *RPCClient) GetSchedule(ctx context.Context, id contracts.ScheduleID) (*contracts.PaymentSchedule, error) {
	var s contracts.PaymentSchedule
	if err := c.get(ctx, fmt.Sprintf("/v1/schedules/%s", id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *RPCClient) GetUserSchedules(ctx context.Context, account contracts.Address) ([]contracts.ScheduleID, error) {
	var resp struct {
		Schedules []contracts.ScheduleID `json:"schedules"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v1/accounts/%s/schedules", account), &resp); err != nil {
		return nil, err
	}
	return resp.Schedules, nil
}

func (c *RPCClient) GetUserPermissions(ctx context.Context, account contracts.Address) (*contracts.AuthorizationGrant, error) {
	var g contracts.AuthorizationGrant
	if err := c.get(ctx, fmt.Sprintf("/v1/accounts/%s/permissions", account), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// awaitSettlement polls the transaction status until it leaves "pending" or
// the settle timeout elapses. A timeout is a transport failure: the keeper
// cannot know whether the execution landed, and the ledger's per-window
// idempotency makes re-evaluating next cycle safe.
func (c *RPCClient) awaitSettlement(ctx context.Context, txHash string) (*Settlement, error) {
	deadline := time.NewTimer(c.cfg.SettleTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.cfg.SettlePoll)
	defer tick.Stop()

	for {
		var st txStatusResponse
		if err := c.get(ctx, "/v1/tx/"+txHash, &st); err != nil {
			return nil, err
		}
		switch st.Status {
		case "settled":
			return &Settlement{
				TxHash:    txHash,
				Reward:    st.Reward,
				GasUsed:   st.GasUsed,
				SettledAt: st.SettledAt,
			}, nil
		case "rejected":
			return nil, &RejectedError{Reason: st.Reason}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("chain: settlement wait for %s timed out after %s", txHash, c.cfg.SettleTimeout)
		case <-tick.C:
		}
	}
}

func (c *RPCClient) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("chain: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("chain: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		sig, err := c.signer.Sign(raw)
		if err != nil {
			return fmt.Errorf("chain: sign request: %w", err)
		}
		req.Header.Set("X-Executor-Address", string(c.signer.Address()))
		req.Header.Set("X-Executor-Signature", sig)
	}
	return c.do(req, out)
}

func (c *RPCClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("chain: build request: %w", err)
	}
	return c.do(req, out)
}

// do executes a request with retry, backoff and the circuit breaker.
// 4xx responses are terminal and mapped to typed errors; network faults and
// 5xx responses are retried up to MaxRetries.
func (c *RPCClient) do(req *http.Request, out any) error {
	if !c.breaker.allow() {
		return fmt.Errorf("chain: circuit breaker open for %s", c.breaker.name)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(req.Context(), attempt); err != nil {
				return err
			}
			if req.Body != nil && req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return fmt.Errorf("chain: rewind request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("chain: gateway returned %d", resp.StatusCode)
			_ = resp.Body.Close()
			continue
		}

		err = c.decode(resp, out)
		if err == nil {
			c.breaker.success()
			return nil
		}
		var rejected *RejectedError
		var gas *ResourceLimitError
		if errors.As(err, &rejected) || errors.As(err, &gas) {
			// Authoritative answer from the ledger, not a transport fault.
			c.breaker.success()
			return err
		}
		lastErr = err
	}

	c.breaker.failure()
	return fmt.Errorf("chain: request to %s failed after %d attempts: %w", req.URL.Path, c.cfg.MaxRetries+1, lastErr)
}

func (c *RPCClient) decode(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var problem problemDetail
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = json.Unmarshal(raw, &problem)

		switch {
		case problem.Code == "gas_exceeded":
			return &ResourceLimitError{GasWanted: problem.GasWanted, GasCeiling: c.cfg.GasCeiling}
		case resp.StatusCode == http.StatusNotFound:
			return contracts.ErrScheduleNotFound
		case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
			reason := problem.Detail
			if reason == "" {
				reason = problem.Title
			}
			return &RejectedError{Reason: reason}
		default:
			return fmt.Errorf("chain: gateway returned %d: %s", resp.StatusCode, problem.Detail)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chain: decode response: %w", err)
	}
	return nil
}

// sleepBackoff waits base * 2^attempt plus jitter, honoring cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 200 * time.Millisecond
	if n, err := rand.Int(rand.Reader, big.NewInt(100)); err == nil {
		backoff += time.Duration(n.Int64()) * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}

// circuitBreaker is a minimal CLOSED/OPEN/HALF_OPEN state machine guarding
// the gateway from hammering during outages.
type circuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
}

func newCircuitBreaker(name string, threshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        "CLOSED",
	}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == "OPEN" {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = "HALF_OPEN"
			return true
		}
		return false
	}
	return true
}

func (cb *circuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = "CLOSED"
	cb.failureCount = 0
}

func (cb *circuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = "OPEN"
	}
}
