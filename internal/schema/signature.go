package schema

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// CallSignature is a parsed "fn(arg1,arg2)(ret1,ret2)" call signature
type CallSignature struct {
	FnName      string
	ArgTypes    []string
	ReturnTypes []string
}

// ParseSignature parses a textual call signature.
//
// The text is split on "(", trailing ")" are stripped from every fragment and
// each fragment is split on ",", dropping empty strings. Exactly three groups
// must result (name, argument types, return types) and at least one return type.
func ParseSignature(signature string) (CallSignature, error) {
	fragments := strings.Split(signature, "(")
	if len(fragments) != 3 {
		return CallSignature{}, fmt.Errorf("%w: %q: expected name(args)(returns)", ErrMalformedCallSignature, signature)
	}

	groups := make([][]string, len(fragments))
	for i, fragment := range fragments {
		fragment = strings.TrimRight(strings.TrimSpace(fragment), ")")
		groups[i] = splitTypes(fragment)
	}

	if len(groups[0]) != 1 {
		return CallSignature{}, fmt.Errorf("%w: %q: missing function name", ErrMalformedCallSignature, signature)
	}
	if len(groups[2]) < 1 {
		return CallSignature{}, fmt.Errorf("%w: %q: no return types", ErrMalformedCallSignature, signature)
	}

	return CallSignature{
		FnName:      groups[0][0],
		ArgTypes:    groups[1],
		ReturnTypes: groups[2],
	}, nil
}

// splitTypes splits a comma separated group, discarding empty entries
func splitTypes(group string) []string {
	parts := strings.Split(group, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			types = append(types, p)
		}
	}
	return types
}

// Canonical returns the signature in selector form, e.g. "balanceOf(address)".
// The uint and int shorthands are expanded to their 256-bit names.
func (s CallSignature) Canonical() string {
	types := make([]string, len(s.ArgTypes))
	for i, t := range s.ArgTypes {
		types[i] = CanonicalType(t)
	}
	return s.FnName + "(" + strings.Join(types, ",") + ")"
}

// CanonicalType expands "uint" and "int", including their array forms, to 256 bits
func CanonicalType(t string) string {
	for _, short := range []string{"uint", "int"} {
		if t == short || strings.HasPrefix(t, short+"[") {
			return short + "256" + t[len(short):]
		}
	}
	return t
}

// Selector returns the 4-byte function selector: keccak256(Canonical())[:4]
func (s CallSignature) Selector() [4]byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(s.Canonical()))
	var selector [4]byte
	copy(selector[:], hash.Sum(nil)[:4])
	return selector
}

// String returns the signature in its textual form
func (s CallSignature) String() string {
	return s.Canonical() + "(" + strings.Join(s.ReturnTypes, ",") + ")"
}
