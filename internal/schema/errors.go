package schema

import "errors"

var (
	// ErrMalformedCallSignature: the signature is not name(args)(returns) with at least one return type
	ErrMalformedCallSignature = errors.New("malformed call signature")
	// ErrArityMismatch: supplied call args or return keys disagree with the parsed signature
	ErrArityMismatch = errors.New("arity mismatch")
	// ErrUnconfiguredExecutor: a compiler was invoked before a batch executor exists
	ErrUnconfiguredExecutor = errors.New("batch executor not configured")
	// ErrUnknownContract: the contract name has no address in the contract registry
	ErrUnknownContract = errors.New("unknown contract")
	// ErrArgumentTransform: an encode-side argument transform failed
	ErrArgumentTransform = errors.New("argument transform failed")
)
