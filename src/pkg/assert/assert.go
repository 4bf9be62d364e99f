package assert

import "fmt"

// Assert panics when condition is false. The optional arguments are a
// format string followed by its operands.
func Assert(condition bool, msgAndArgs ...any) {
	if condition {
		return
	}

	if len(msgAndArgs) == 0 {
		panic("assertion failed")
	}

	format, ok := msgAndArgs[0].(string)
	if !ok {
		panic(fmt.Sprintf("assertion failed: %v", msgAndArgs...))
	}
	panic("assertion failed: " + fmt.Sprintf(format, msgAndArgs[1:]...))
}
