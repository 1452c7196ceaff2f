package multicall

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultAddress is the Multicall3 deployment shared by most EVM chains
const DefaultAddress = "0xcA11bde05977b3631167028862bE2a173976CA11"

const aggregate3 = "aggregate3"

const multicall3ABI = `[{
	"name": "aggregate3",
	"type": "function",
	"stateMutability": "payable",
	"inputs": [{
		"name": "calls",
		"type": "tuple[]",
		"components": [
			{"name": "target", "type": "address"},
			{"name": "allowFailure", "type": "bool"},
			{"name": "callData", "type": "bytes"}
		]
	}],
	"outputs": [{
		"name": "returnData",
		"type": "tuple[]",
		"components": [
			{"name": "success", "type": "bool"},
			{"name": "returnData", "type": "bytes"}
		]
	}]
}]`

var multicallABI = mustParseABI(multicall3ABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid multicall ABI: %v", err))
	}
	return parsed
}

// call3 mirrors Multicall3.Call3
type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// result mirrors Multicall3.Result
type result struct {
	Success    bool
	ReturnData []byte
}

// encodeAggregate3 builds the calldata of aggregate3(calls)
func encodeAggregate3(calls []call3) ([]byte, error) {
	data, err := multicallABI.Pack(aggregate3, calls)
	if err != nil {
		return nil, fmt.Errorf("failed to pack aggregate3: %w", err)
	}
	return data, nil
}

// decodeAggregate3 unpacks the Result[] returned by aggregate3
func decodeAggregate3(data []byte) ([]result, error) {
	out, err := multicallABI.Unpack(aggregate3, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack aggregate3: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("aggregate3 returned %d values", len(out))
	}

	rv := reflect.ValueOf(out[0])
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("aggregate3 returned %T", out[0])
	}
	results := make([]result, rv.Len())
	for i := range results {
		elem := rv.Index(i)
		results[i] = result{
			Success:    elem.FieldByName("Success").Bool(),
			ReturnData: elem.FieldByName("ReturnData").Bytes(),
		}
	}
	return results, nil
}
