package ws

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"schemawatch/internal/registry"
)

// Source resolves dotted registry paths to value streams
type Source interface {
	Lookup(dotted string) (registry.Stream, bool)
}

// Update is the message sent to a client for every value on its path
type Update struct {
	Session string `json:"session"`
	Path    string `json:"path"`
	Value   any    `json:"value"`
}

// EncodeValue prepares a stream value for JSON: byte slices become 0x hex
func EncodeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return hexutil.Encode(b)
	}
	return v
}

// Bytes marshals the update
func (u *Update) Bytes() ([]byte, error) {
	return json.Marshal(Update{Session: u.Session, Path: u.Path, Value: EncodeValue(u.Value)})
}
