// Package blockparam converts between block parameter text and the *big.Int
// form used by contract callers.
//
// Named blocks are encoded as negative numbers, the same convention go-ethereum's
// rpc.BlockNumber uses, so a single *big.Int can carry either a height or a tag.
// A nil *big.Int means latest.
package blockparam

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	Latest    = "latest"
	Pending   = "pending"
	Earliest  = "earliest"
	Safe      = "safe"
	Finalized = "finalized"
)

// tagNumbers maps tags to their negative encoding
var tagNumbers = map[string]int64{
	Safe:      -4,
	Finalized: -3,
	Latest:    -2,
	Pending:   -1,
}

// Parse converts a tag, a 0x-hex height or a decimal height into the *big.Int form.
// The empty string and "latest" yield nil.
func Parse(s string) (*big.Int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", Latest:
		return nil, nil
	case Earliest:
		return big.NewInt(0), nil
	}
	if n, ok := tagNumbers[s]; ok {
		return big.NewInt(n), nil
	}

	if strings.HasPrefix(s, "0x") {
		n, err := parseHexUint64(s)
		if err != nil {
			return nil, fmt.Errorf("invalid block number %q: %w", s, err)
		}
		return new(big.Int).SetUint64(n), nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid block parameter %q", s)
	}
	return new(big.Int).SetUint64(n), nil
}

// Format renders n as the JSON-RPC block parameter
func Format(n *big.Int) string {
	if n == nil {
		return Latest
	}
	if n.Sign() < 0 {
		for tag, v := range tagNumbers {
			if n.IsInt64() && n.Int64() == v {
				return tag
			}
		}
		return Latest
	}
	return hexutil.EncodeBig(n)
}

// IsDynamic reports whether the block parameter follows the chain head
func IsDynamic(n *big.Int) bool {
	return n == nil || n.Sign() < 0
}

// parseHexUint64 parses a hex string (with 0x prefix) to uint64
func parseHexUint64(hexStr string) (uint64, error) {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	return strconv.ParseUint(hexStr, 16, 64)
}
