// Package upstream talks to the chain node over HTTP JSON-RPC and WebSocket.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"schemawatch/internal/blockparam"
	"schemawatch/internal/jsonrpc"
)

// Upstream is the HTTP JSON-RPC client of one node
type Upstream struct {
	rpcURL string

	httpClient *http.Client
	status     *Status
	breaker    *circuitBreaker
	retry      RetryConfig
	reqID      atomic.Int64
	logger     zerolog.Logger
}

// Config for creating a new Upstream
type Config struct {
	RPCURL         string
	RequestTimeout time.Duration
	CircuitBreaker CircuitBreakerConfig
	Retry          RetryConfig
	Logger         zerolog.Logger
}

// New creates a new Upstream instance
func New(cfg Config) *Upstream {
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Upstream{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		status:  NewStatus(),
		breaker: newCircuitBreaker(cfg.CircuitBreaker),
		retry:   cfg.Retry,
		logger:  cfg.Logger.With().Str("component", "upstream").Logger(),
	}
}

// Status returns the node status shared with the heads client
func (u *Upstream) Status() *Status {
	return u.status
}

// Execute sends a JSON-RPC request via HTTP
func (u *Upstream) Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if u.rpcURL == "" {
		return nil, fmt.Errorf("HTTP RPC URL not configured")
	}
	if !u.breaker.allow() {
		return nil, ErrCircuitOpen
	}

	resp, err := u.executeHTTP(ctx, req)
	if err != nil {
		if ctx.Err() == nil && u.breaker.failure() {
			u.logger.Warn().Err(err).Msg("node failing, circuit breaker opened")
		}
		u.status.SetHealthy(false)
		return nil, err
	}
	u.breaker.success()
	u.status.SetHealthy(true)
	return resp, nil
}

func (u *Upstream) executeHTTP(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.rpcURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	return jsonrpc.ParseResponse(body)
}

// Call executes method with params and unmarshals the result into result
func (u *Upstream) Call(ctx context.Context, result any, method string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	req, err := jsonrpc.NewRequest(method, params, jsonrpc.NewIDInt(u.reqID.Add(1)))
	if err != nil {
		return err
	}

	resp, err := u.executeWithRetry(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if err := resp.GetResultAs(result); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// CallContract executes eth_call; blockNumber follows the blockparam encoding, nil meaning latest
func (u *Upstream) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := jsonrpc.CallArgs{Data: hexutil.Encode(msg.Data)}
	if msg.To != nil {
		args.To = msg.To.Hex()
	}
	if msg.From != (common.Address{}) {
		args.From = msg.From.Hex()
	}
	if msg.Gas != 0 {
		args.Gas = hexutil.EncodeUint64(msg.Gas)
	}
	if msg.Value != nil {
		args.Value = hexutil.EncodeBig(msg.Value)
	}

	var result hexutil.Bytes
	if err := u.Call(ctx, &result, jsonrpc.MethodCall, args, blockparam.Format(blockNumber)); err != nil {
		return nil, err
	}
	return result, nil
}

// BlockNumber returns the node's latest block number
func (u *Upstream) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := u.Call(ctx, &result, jsonrpc.MethodBlockNumber); err != nil {
		return 0, err
	}
	u.status.UpdateBlock(uint64(result))
	return uint64(result), nil
}

// Close releases idle connections
func (u *Upstream) Close() {
	u.httpClient.CloseIdleConnections()
}

