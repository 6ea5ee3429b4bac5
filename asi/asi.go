/*Package asi provides an adaptor to ASI MS-2000 multi-axis stage controllers
and enables more pleasant HTTP control.

The MS-2000 speaks a line-oriented ASCII protocol over RS-232 (9600 8N1 on
current firmware) or a terminal server.  Commands are CR-terminated, replies
LF-terminated, and the controller answers every command with exactly one
line, so the adaptor is strictly synchronous: one command on the wire at a
time, through a connection pool of size one.

Positions cross this API as float64 values that carry integral encoder
counts (tenths of a micron at the factory 10 counts/µm).  Velocities are
mm/s, acceleration and settle times ms, and precision mm, as on the wire.
*/
package asi

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/amsikking/asi-MS-2000-500-CP/comm"
	"github.com/amsikking/asi-MS-2000-500-CP/util"
	"github.com/tarm/serial"
)

const (
	// RxTerm is the terminator on replies from the controller
	RxTerm = '\n'

	// TxTerm is the terminator on commands to the controller
	TxTerm = '\r'

	// DefaultTimeout is how long to wait for a reply before giving up
	DefaultTimeout = 5 * time.Second

	// DefaultCountsPerMicron is the factory encoder scale
	DefaultCountsPerMicron = 10

	replyBufSize = 256
)

// DefaultProbeAxes are the axis labels probed at Open when none are
// configured.  These cover the XY stage, Z/F focus drives, and the theta
// and filter-wheel cards ASI ships.
var DefaultProbeAxes = []string{"X", "Y", "Z", "F", "T", "R"}

func makeSerConf(addr string, timeout time.Duration) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: timeout}
}

// Option configures a Controller beyond the basic address.
type Option func(*Controller)

// WithTimeout sets the per-exchange reply timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithAxes restricts the axis labels probed at Open, mirroring a stage
// whose installed cards are known up front.
func WithAxes(axes ...string) Option {
	return func(c *Controller) { c.probeAxes = axes }
}

// WithCountsPerMicron overrides the encoder scale used for the travel
// limit conversion between mm on the wire and counts in the API.
func WithCountsPerMicron(counts float64) Option {
	return func(c *Controller) { c.countsPerMicron = counts }
}

// Controller talks to one MS-2000.  Create with New, then Open; the zero
// value is not usable.  Methods are safe for concurrent use in the sense
// that the pool serializes wire access, but cached state (enabled flags,
// PWM state) assumes one logical caller, as the protocol itself does.
type Controller struct {
	pool    *comm.Pool
	addr    string
	serial  bool
	timeout time.Duration

	countsPerMicron float64
	probeAxes       []string

	version string
	axes    []string
	limits  map[string]util.Limiter // in counts

	// the MC query form is not supported on all firmware, so enabled
	// state is cached here, same as aerotech does for velocity
	enabled map[string]bool

	pwmState string

	open bool
}

// New creates a Controller for the given address.  connectSerial selects
// RS-232 (addr is a device path) over TCP (addr is host:port on a terminal
// server).  No I/O happens until Open.
func New(addr string, connectSerial bool, opts ...Option) *Controller {
	c := &Controller{
		addr:            addr,
		serial:          connectSerial,
		timeout:         DefaultTimeout,
		countsPerMicron: DefaultCountsPerMicron,
		probeAxes:       DefaultProbeAxes,
		limits:          map[string]util.Limiter{},
		enabled:         map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	var maker comm.CreationFunc
	if connectSerial {
		maker = comm.SerialConnMaker(makeSerConf(addr, c.timeout))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	c.pool = comm.NewPool(1, 30*time.Second, maker)
	return c
}

// Open establishes communication: it requires an identification reply to
// V, probes for the installed axes, and loads their software travel
// limits.  Open on an open controller is a no-op.
func (c *Controller) Open() error {
	if c.open {
		return nil
	}
	ver, err := c.Version()
	if err != nil {
		// a controller silent on the identification query is a connection
		// problem, not an exchange-level timeout
		if te, ok := err.(TimeoutError); ok {
			return ConnectionError{Addr: c.addr, Op: "identify", Err: te}
		}
		return err
	}
	if !strings.HasPrefix(ver, "Version:") {
		return ConnectionError{Addr: c.addr, Op: "identify",
			Err: fmt.Errorf("expected a Version: reply to V, got %q", ver)}
	}
	c.version = ver
	axes := c.axes[:0]
	for _, ax := range c.probeAxes {
		r, err := c.exchange("W " + ax)
		if err != nil {
			return err
		}
		if r.Kind == KindError {
			if r.Code == 2 { // unrecognized axis, i.e. not installed
				continue
			}
			return r.Err()
		}
		axes = append(axes, ax)
	}
	c.axes = axes
	for _, ax := range c.axes {
		min, max, err := c.queryLimits(ax)
		if err != nil {
			return err
		}
		c.limits[ax] = util.Limiter{Min: min, Max: max}
	}
	c.open = true
	return nil
}

// Close releases the connection to the controller.  If a PWM state was
// ever configured, the TTL lines are returned to off first, matching the
// hardware's safe state.  Close is idempotent.
func (c *Controller) Close() error {
	if !c.open {
		c.pool.Close()
		return nil
	}
	if c.pwmState != "" && c.pwmState != PWMOff {
		// best effort, the port is going away either way
		c.SetPWMState(PWMOff)
	}
	c.open = false
	c.pool.Close()
	return nil
}

// Axes returns the labels discovered at Open, in probe order.
func (c *Controller) Axes() []string {
	out := make([]string, len(c.axes))
	copy(out, c.axes)
	return out
}

// Version returns the controller's identification string, e.g.
// "Version: USB-9.2k".
func (c *Controller) Version() (string, error) {
	r, err := c.exchange("V")
	if err != nil {
		return "", err
	}
	if err := r.Err(); err != nil {
		return "", err
	}
	strs := make([]string, len(r.Values))
	for i, v := range r.Values {
		strs[i] = v.Raw
	}
	return strings.Join(strs, " "), nil
}

// Raw sends one command verbatim and returns the raw reply line.  It is an
// escape hatch for commands the adaptor does not model.
func (c *Controller) Raw(cmd string) (string, error) {
	r, err := c.exchange(cmd)
	if err != nil {
		return "", err
	}
	return r.Raw, err
}

// exchange performs one command/reply cycle.  Transport and framing
// failures destroy the pooled connection so the next command starts on a
// clean channel; controller faults (":N-n") come back as ordinary replies
// and leave the connection alone.
func (c *Controller) exchange(cmd string) (r Reply, err error) {
	conn, err := c.pool.Get()
	if err != nil {
		return r, ConnectionError{Addr: c.addr, Op: "connect", Err: err}
	}
	defer func() { c.pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap = comm.NewTerminator(conn, RxTerm, TxTerm)
	wrap, err = comm.NewTimeout(wrap, c.timeout)
	if err != nil {
		return r, err
	}
	_, err = io.WriteString(wrap, cmd)
	if err != nil {
		err = ConnectionError{Addr: c.addr, Op: "write", Err: err}
		return r, err
	}
	buf := make([]byte, replyBufSize)
	n, err := wrap.Read(buf)
	if err != nil {
		err = c.readErr(cmd, err)
		return r, err
	}
	r, err = ParseReply(cmd, string(buf[:n]))
	return r, err
}

// readErr classifies a failed read: an expired deadline is the controller
// not answering, anything else is the channel itself failing.
func (c *Controller) readErr(cmd string, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return TimeoutError{Cmd: cmd, After: c.timeout}
	}
	// tarm/serial surfaces an expired ReadTimeout as a zero-byte read,
	// which the terminator wrapper passes up as io.EOF
	if c.serial && err == io.EOF {
		return TimeoutError{Cmd: cmd, After: c.timeout}
	}
	return ConnectionError{Addr: c.addr, Op: "read", Err: err}
}

// ack performs an exchange and requires a plain acknowledgement.  Replies
// that carry values in addition to the ack are tolerated (the LED query
// quirk answers sets that way on some firmware).
func (c *Controller) ack(cmd string) error {
	r, err := c.exchange(cmd)
	if err != nil {
		return err
	}
	return r.Err()
}

// queryValues performs an exchange and requires a data-carrying reply.
func (c *Controller) queryValues(cmd string) ([]Value, error) {
	r, err := c.exchange(cmd)
	if err != nil {
		return nil, err
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if r.Kind != KindValues {
		return nil, ProtocolError{Cmd: cmd, Reply: r.Raw, Msg: "expected values, got bare ack"}
	}
	return r.Values, nil
}

// queryPair performs an exchange expecting a single axis=value token for
// the given axis and returns it as a float.
func (c *Controller) queryPair(cmd, axis string) (float64, error) {
	vals, err := c.queryValues(cmd)
	if err != nil {
		return 0, err
	}
	for _, v := range vals {
		if strings.EqualFold(v.Axis, axis) {
			f, err := v.Float()
			if err != nil {
				return 0, ProtocolError{Cmd: cmd, Reply: v.Raw, Msg: "unparseable value"}
			}
			return f, nil
		}
	}
	return 0, ProtocolError{Cmd: cmd, Reply: "", Msg: "reply did not mention axis " + axis}
}

func (c *Controller) checkAxis(axis string) error {
	for _, ax := range c.axes {
		if ax == axis {
			return nil
		}
	}
	return InvalidAxisError{Axis: axis}
}

// countsToMM converts encoder counts to the millimeters used on the wire
// by SL and SU.
func (c *Controller) countsToMM(counts float64) float64 {
	return counts / (c.countsPerMicron * 1e3)
}

func (c *Controller) mmToCounts(mm float64) float64 {
	return math.Round(mm * c.countsPerMicron * 1e3)
}

func (c *Controller) queryLimits(axis string) (min, max float64, err error) {
	lo, err := c.queryPair(fmt.Sprintf("SL %s?", axis), axis)
	if err != nil {
		return 0, 0, err
	}
	hi, err := c.queryPair(fmt.Sprintf("SU %s?", axis), axis)
	if err != nil {
		return 0, 0, err
	}
	return c.mmToCounts(lo), c.mmToCounts(hi), nil
}

// pollUnder runs f at the given interval until it reports done, the
// context expires, or it errors.  Deadline exhaustion is not an error
// here, it is done == false; f's errors pass through.
func pollUnder(ctx context.Context, interval time.Duration, f func() (bool, error)) (bool, error) {
	lim := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return false, nil
		}
		done, err := f()
		if err != nil || done {
			return done, err
		}
	}
}
