package upstream

import (
	"context"
	"errors"
	"fmt"

	"schemawatch/internal/jsonrpc"
)

// ErrRetriesExhausted is returned when every attempt failed at the transport level
var ErrRetriesExhausted = errors.New("all attempts failed")

// RetryConfig holds retry configuration
type RetryConfig struct {
	Enabled     bool
	MaxAttempts int
}

// executeWithRetry sends req until it succeeds, fails with a non-retryable
// RPC error, or MaxAttempts is reached. An open circuit ends retrying.
func (u *Upstream) executeWithRetry(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if !u.retry.Enabled {
		return u.Execute(ctx, req)
	}

	maxAttempts := u.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	var lastResp *jsonrpc.Response

	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := u.Execute(ctx, req)

		// Success - no error and no JSON-RPC error
		if err == nil && !resp.HasError() {
			return resp, nil
		}

		if err == nil {
			if !resp.IsRetryableError() {
				return resp, nil
			}
			lastResp = resp
			lastErr = fmt.Errorf("RPC error: %s", resp.Error.Message)
		} else {
			lastResp = nil
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrCircuitOpen) {
			break
		}

		u.logger.Warn().
			Int("attempt", attempt+1).
			Int("maxAttempts", maxAttempts).
			Err(lastErr).
			Str("method", req.Method).
			Msg("request failed, retrying")
	}

	// All retries exhausted
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}
