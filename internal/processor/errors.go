package processor

import (
	"errors"
	"fmt"
	"strings"
)

// typedError lets an engine name its failures explicitly.
type typedError interface {
	ErrorType() string
}

// errorType names the failure: the ErrorType of the first error in the
// chain that declares one, otherwise the dynamic type of the innermost
// wrapped error.
func errorType(err error) string {
	var te typedError
	if errors.As(err, &te) {
		return te.ErrorType()
	}
	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	return fmt.Sprintf("%T", inner)
}

// errorChain renders the wrap chain of err, one layer per line, outermost
// first.
func errorChain(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "%s%T: %+v\n", strings.Repeat("  ", depth), err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}
