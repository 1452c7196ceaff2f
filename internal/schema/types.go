package schema

import (
	"github.com/ethereum/go-ethereum/common"

	"schemawatch/internal/stream"
)

// Transform converts a value on its way into a call (arguments) or out of one (returns)
type Transform func(v any) (any, error)

// CallArg is one call-site argument and its optional encode-side transform
type CallArg struct {
	Value     any
	Transform Transform
}

// ReturnKey names one return value and its optional decode-side transform
type ReturnKey struct {
	Key       string
	Transform Transform
}

// LogicalSchema declares one batched contract call and where its results are observed.
// ObservableKeys[i] is the registry path for ReturnKeys[i].
type LogicalSchema struct {
	ContractName string
	ContractCall string
	CallArgs     []CallArg
	// CallArgsOverrides replaces the argument values in the call key when non-nil
	CallArgsOverrides []string
	ReturnKeys        []ReturnKey
	ObservableKeys    [][]string
}

// CombineFunc builds a derived stream from its resolved dependency streams
type CombineFunc func(deps []stream.Observable[any]) stream.Observable[any]

// DerivedSchema declares a value computed from already-registered streams
type DerivedSchema struct {
	ObservableKeys []string
	Dependencies   [][]string
	Fn             CombineFunc
}

// ReturnSpec pairs a fully-qualified return key with its decode transform
type ReturnSpec struct {
	Key       string
	Transform Transform
}

// CallDescriptor is one call handed to the batch executor.
// Call holds the signature text followed by the transformed arguments.
type CallDescriptor struct {
	Target  common.Address
	Call    []any
	Returns []ReturnSpec
}

// Signature returns the call signature text
func (d CallDescriptor) Signature() string {
	if len(d.Call) == 0 {
		return ""
	}
	s, _ := d.Call[0].(string)
	return s
}

// Args returns the call-site arguments
func (d CallDescriptor) Args() []any {
	if len(d.Call) < 2 {
		return nil
	}
	return d.Call[1:]
}

// AddressResolver resolves a contract name to its deployed address
type AddressResolver interface {
	Resolve(contractName string) (common.Address, error)
}

// CallSubmitter accepts call descriptors for batching. Submission is additive.
type CallSubmitter interface {
	SubmitCalls(descs []CallDescriptor)
}
