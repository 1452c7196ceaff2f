package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Response represents a JSON-RPC response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// HasError returns true if the response contains an error
func (r *Response) HasError() bool {
	return r.Error != nil
}

// ResultIsNull returns true if the response result is absent or JSON null
func (r *Response) ResultIsNull() bool {
	if r == nil || len(r.Result) == 0 {
		return true
	}
	return bytes.Equal(r.Result, []byte("null"))
}

// ParseResponse parses a JSON-RPC response from bytes
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// GetResultAs unmarshals the result into v, returning the RPC error if there is one
func (r *Response) GetResultAs(v any) error {
	if r.Error != nil {
		return r.Error
	}
	if r.ResultIsNull() {
		return fmt.Errorf("empty result")
	}
	return json.Unmarshal(r.Result, v)
}

// IsRetryableError reports whether the error is worth retrying.
// Request errors and execution errors (reverts) are not.
func (r *Response) IsRetryableError() bool {
	if r.Error == nil {
		return false
	}

	switch r.Error.Code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return false
	}

	msg := strings.ToLower(r.Error.Message)
	for _, fatal := range []string{"execution reverted", "invalid opcode", "out of gas"} {
		if strings.Contains(msg, fatal) {
			return false
		}
	}
	return true
}
