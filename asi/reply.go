package asi

import (
	"strconv"
	"strings"
)

// the MS-2000 answers every command with a single LF-terminated line.
// Nominal shapes:
//
//	:A                     plain acknowledgement
//	:A 1234 -567           positional values (W)
//	:A X=5.745920 Y=...    axis=value pairs (S, AC, WT, PC, SL, SU, TTL)
//	X=25 :A                pairs with a trailing ack (LED)
//	:N-4                   fault, code from the manual's table
//	B                      bare status, no marker at all (/)
//
// the marker is accepted in either case and at either end of the line, and
// unrecognized trailing tokens are ignored; firmware revisions differ on
// all three points.

// Kind discriminates the reply variants.
type Kind int

const (
	// KindAck is a bare acknowledgement with no data
	KindAck Kind = iota

	// KindError is a controller fault, see Reply.Code
	KindError

	// KindValues carries one or more data tokens
	KindValues
)

// Value is one data token of a reply.  Axis is empty for positional tokens.
type Value struct {
	Axis string
	Raw  string
}

// Float parses the token as a float64.
func (v Value) Float() (float64, error) {
	return strconv.ParseFloat(v.Raw, 64)
}

// Int parses the token as a signed integer, the format of encoder counts.
func (v Value) Int() (int64, error) {
	return strconv.ParseInt(v.Raw, 10, 64)
}

// Reply is one parsed reply line.
type Reply struct {
	Kind   Kind
	Code   int // error code, valid when Kind == KindError
	Values []Value
	Raw    string // the line as received, terminator stripped
}

// Err converts a fault reply into a ControllerError, nil for other kinds.
func (r Reply) Err() error {
	if r.Kind == KindError {
		return ControllerError(r.Code)
	}
	return nil
}

// ParseReply parses one reply line.  cmd is only used to label errors.
func ParseReply(cmd, line string) (Reply, error) {
	r := Reply{Raw: line}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return r, ProtocolError{Cmd: cmd, Reply: line, Msg: "empty reply"}
	}
	acked := false
	for _, f := range fields {
		upper := strings.ToUpper(f)
		switch {
		case upper == ":A":
			acked = true
		case strings.HasPrefix(upper, ":N-"):
			code, err := strconv.Atoi(upper[3:])
			if err != nil {
				return r, ProtocolError{Cmd: cmd, Reply: line, Msg: "unparseable error code"}
			}
			r.Kind = KindError
			r.Code = code
			return r, nil
		case strings.HasPrefix(upper, ":"):
			// an unknown marker is a framing problem, not data
			return r, ProtocolError{Cmd: cmd, Reply: line, Msg: "unknown reply marker"}
		case strings.Contains(f, "="):
			pieces := strings.SplitN(f, "=", 2)
			r.Values = append(r.Values, Value{Axis: pieces[0], Raw: pieces[1]})
		default:
			r.Values = append(r.Values, Value{Raw: f})
		}
	}
	if len(r.Values) > 0 {
		r.Kind = KindValues
		return r, nil
	}
	if acked {
		r.Kind = KindAck
		return r, nil
	}
	return r, ProtocolError{Cmd: cmd, Reply: line, Msg: "no marker and no data"}
}
