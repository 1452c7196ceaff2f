// Package jsonrpc is the JSON-RPC 2.0 codec spoken to the chain node.
package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Version is the JSON-RPC version
const Version = "2.0"

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server error codes range: -32000 to -32099
	CodeServerError = -32000
)

// Methods used against the node
const (
	MethodCall        = "eth_call"
	MethodBlockNumber = "eth_blockNumber"
	MethodSubscribe   = "eth_subscribe"
	MethodUnsubscribe = "eth_unsubscribe"
	MethodChainID     = "eth_chainId"

	SubscriptionNewHeads = "newHeads"
)

// ID represents a JSON-RPC request/response ID
// It can be a string, number, or null
type ID struct {
	value any
}

// NewIDString creates an ID from a string
func NewIDString(s string) ID {
	return ID{value: s}
}

// NewIDInt creates an ID from an integer
func NewIDInt(n int64) ID {
	return ID{value: n}
}

// IsNull returns true if the ID is null
func (id ID) IsNull() bool {
	return id.value == nil
}

// String renders the ID for logging
func (id ID) String() string {
	if id.value == nil {
		return "null"
	}
	return fmt.Sprint(id.value)
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &id.value)
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError creates a new JSON-RPC error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Notification is a server-initiated subscription message
type Notification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  NotificationParams `json:"params"`
}

// NotificationParams carries the subscription id and its payload
type NotificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// BlockHeader holds the newHeads fields the watcher needs
type BlockHeader struct {
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Number     string `json:"number"`
	Timestamp  string `json:"timestamp"`
}

// BlockNumber decodes the hex block number
func (h *BlockHeader) BlockNumber() (uint64, error) {
	n, err := hexutil.DecodeUint64(h.Number)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q: %w", h.Number, err)
	}
	return n, nil
}

// CallArgs is the transaction object of eth_call
type CallArgs struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Gas   string `json:"gas,omitempty"`
	Value string `json:"value,omitempty"`
}
