package asi

import (
	"fmt"
	"time"
)

// ConnectionError is generated when the controller cannot be reached,
// or when an established channel fails mid-exchange.
type ConnectionError struct {
	// Addr is the serial port or network address of the controller
	Addr string

	// Op is the operation that failed, e.g. "connect", "write", "read"
	Op string

	// Err is the underlying transport error
	Err error
}

func (e ConnectionError) Error() string {
	return fmt.Sprintf("asi: connection error on %s during %s: %v", e.Addr, e.Op, e.Err)
}

// TimeoutError is generated when the controller does not answer a command
// within the adaptor's timeout, or when WaitUntilIdle exhausts its budget.
type TimeoutError struct {
	// Cmd is the command that went unanswered
	Cmd string

	// After is how long the adaptor waited
	After time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("asi: no response to %q within %v", e.Cmd, e.After)
}

// ProtocolError is generated when the controller answers with a line the
// adaptor cannot parse.  The exchange that produced one also discards the
// underlying connection, so the next command starts on a clean channel.
type ProtocolError struct {
	// Cmd is the command whose reply was malformed
	Cmd string

	// Reply is the raw reply line, terminator stripped
	Reply string

	// Msg describes what was wrong with it
	Msg string
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("asi: malformed reply to %q: %s (got %q)", e.Cmd, e.Msg, e.Reply)
}

// InvalidAxisError is generated before any wire traffic when an operation
// names an axis the controller does not have.
type InvalidAxisError struct {
	Axis string
}

func (e InvalidAxisError) Error() string {
	return fmt.Sprintf("asi: axis %q does not exist on this controller", e.Axis)
}

// OutOfRangeError is generated before any wire traffic when a commanded
// value violates the known software travel limits.
type OutOfRangeError struct {
	Axis     string
	Value    float64
	Min, Max float64
}

func (e OutOfRangeError) Error() string {
	return fmt.Sprintf("asi: %f out of range %f to %f on axis %s", e.Value, e.Min, e.Max, e.Axis)
}

// ControllerError is a fault reported by the controller itself, the n of a
// ":N-n" reply.  Codes are from the MS-2000 serial command manual.
type ControllerError int

var controllerErrors = map[int]string{
	1:  "unknown command",
	2:  "unrecognized axis parameter",
	3:  "missing parameters",
	4:  "parameter out of range",
	5:  "operation failed",
	6:  "undefined error",
	7:  "invalid card address",
	21: "serial command halted by the HALT command",
}

func (e ControllerError) Error() string {
	text, ok := controllerErrors[int(e)]
	if !ok {
		text = "unlisted error code"
	}
	return fmt.Sprintf("asi: controller error N-%d: %s", int(e), text)
}
