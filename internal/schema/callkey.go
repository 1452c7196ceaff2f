package schema

import (
	"fmt"
	"strings"
)

// CallKey builds "{contractName}.{fnName}.{argIdentifiers joined by '.'}".
// The format is the addressing scheme of the result stream and must stay stable.
func CallKey(contractName, fnName string, argIdentifiers []string) string {
	return contractName + "." + fnName + "." + strings.Join(argIdentifiers, ".")
}

// ReturnKeyOf builds the fully-qualified key of one return value of a call
func ReturnKeyOf(callKey, returnKey string) string {
	return callKey + "." + returnKey
}

// argIdentifiers returns the overrides when set, otherwise the raw argument values
func argIdentifiers(s LogicalSchema) []string {
	if s.CallArgsOverrides != nil {
		return s.CallArgsOverrides
	}
	ids := make([]string, len(s.CallArgs))
	for i, arg := range s.CallArgs {
		ids[i] = fmt.Sprint(arg.Value)
	}
	return ids
}
