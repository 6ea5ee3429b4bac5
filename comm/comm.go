/*Package comm provides connection plumbing for communication with lab hardware.

Devices are reached over RS-232 or TCP (many lab serial devices hang off
terminal servers).  A Pool holds the connection(s) to one device and closes
them when they have gone unused for a while; for strictly synchronous,
exclusively-owned channels like a serial instrument, use a pool of size one
and the Get call becomes the single-owner serialization point.

Typical usage in a driver:

	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap = comm.NewTerminator(conn, '\n', '\r')
	wrap, err = comm.NewTimeout(wrap, 5*time.Second)
	// write a command, read one reply
*/
package comm

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrTerminatorNotFound is generated when the read buffer fills before
	// the termination byte is seen
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrPoolClosed is generated when a connection is requested from a
	// closed pool
	ErrPoolClosed = errors.New("pool is closed")
)

// CreationFunc is a function which returns a new "connection" to something.
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// SerialConnMaker returns a CreationFunc which opens the serial port
// described by cfg.  The port's read timeout lives in cfg; NewTimeout is a
// no-op over serial connections.
func SerialConnMaker(cfg *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(cfg)
	}
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr with an
// exponential backoff.  Some devices do not like being connection thrashed,
// so the retry is capped at a few seconds rather than unbounded.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type unwrapper interface {
	Unwrap() io.ReadWriter
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// terminator appends the Tx terminator on writes and scans reads one byte
// at a time until the Rx terminator, so it never consumes bytes belonging
// to a later reply.  Byte-at-a-time is plenty fast next to a 9600 baud link.
type terminator struct {
	rw             io.ReadWriter
	rxTerm, txTerm byte
}

// NewTerminator wraps rw in terminator framing.  Writes get txTerm appended;
// Reads consume through rxTerm and return the line without it.
func NewTerminator(rw io.ReadWriter, rxTerm, txTerm byte) io.ReadWriter {
	return &terminator{rw: rw, rxTerm: rxTerm, txTerm: txTerm}
}

func (t *terminator) Unwrap() io.ReadWriter {
	return t.rw
}

func (t *terminator) Write(b []byte) (int, error) {
	buf := make([]byte, len(b)+1)
	copy(buf, b)
	buf[len(b)] = t.txTerm
	n, err := t.rw.Write(buf)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

func (t *terminator) Read(b []byte) (int, error) {
	var one [1]byte
	n := 0
	for n < len(b) {
		nn, err := t.rw.Read(one[:])
		if err != nil {
			return n, err
		}
		if nn == 0 {
			continue
		}
		if one[0] == t.rxTerm {
			return n, nil
		}
		b[n] = one[0]
		n++
	}
	return n, ErrTerminatorNotFound
}

// timeoutRW refreshes the connection deadline before each Read and Write.
type timeoutRW struct {
	rw io.ReadWriter
	d  deadliner
	t  time.Duration
}

// NewTimeout wraps rw such that each Read or Write carries a fresh deadline.
// If no connection in the wrapping chain supports deadlines (serial ports
// carry their timeout in the open config instead), rw is returned unchanged.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	cur := rw
	for {
		if d, ok := cur.(deadliner); ok {
			return &timeoutRW{rw: rw, d: d, t: timeout}, nil
		}
		if u, ok := cur.(unwrapper); ok {
			cur = u.Unwrap()
			continue
		}
		return rw, nil
	}
}

func (t *timeoutRW) Read(b []byte) (int, error) {
	err := t.d.SetReadDeadline(time.Now().Add(t.t))
	if err != nil {
		return 0, err
	}
	return t.rw.Read(b)
}

func (t *timeoutRW) Write(b []byte) (int, error) {
	err := t.d.SetWriteDeadline(time.Now().Add(t.t))
	if err != nil {
		return 0, err
	}
	return t.rw.Write(b)
}

// Pool is a communication pool which holds one or more connections to a
// device that will be closed if they are not in use, and re-opened as
// needed.  It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                  // maximum number of connections, idle + on lease
	onLease int                  // number of connections given out
	timeout time.Duration        // idle time after which all connections are freed
	idle    []io.ReadWriteCloser // connections not currently given out
	timer   *time.Timer          // fires the idle reclaim
	maker   CreationFunc

	reclaiming bool // whether startReclaim's goroutine is running
	closed     bool
	mu         sync.Mutex
	cond       *sync.Cond // signaled whenever capacity frees up
}

// NewPool creates a new Pool holding up to maxSize connections, which are
// made with maker and freed after all have been idle for timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		timer:   time.NewTimer(timeout),
		maker:   maker,
	}
	p.cond = sync.NewCond(&p.mu)
	p.timer.Stop() // stop the timer since there is nothing to close initially
	return p
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.  The consumer should not attempt to cast it to its
// concrete type and use it outside this interface.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).
// ReturnWithError does the right thing in one call.
//
// If the error from Get is not nil, you must not return the value
// to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	// stopping the timer can fail as documented
	// ( https://golang.org/pkg/time/#Timer.Stop ) but a new connection will
	// be generated anyway, so we can ignore that.
	p.timer.Stop()

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if n := len(p.idle); n > 0 {
			ret := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.onLease++
			p.mu.Unlock()
			return ret, nil
		}
		if p.onLease < p.maxSize {
			break
		}
		// all given out; Put and Destroy both signal.  A destroyed lease
		// frees capacity rather than returning a connection, so on wake we
		// loop and may fall through to dial fresh.
		p.cond.Wait()
	}
	// reserve the slot before dialing so a concurrent Get cannot
	// oversubscribe the pool while the dial is in flight
	p.onLease++
	p.mu.Unlock()
	c, err := p.maker()
	if err != nil {
		p.mu.Lock()
		p.onLease--
		p.cond.Signal()
		p.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.  Junk communicators (ones that always error) should be
// Destroy()'d and not returned with Put.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	p.mu.Lock()
	p.onLease--
	if p.closed {
		p.mu.Unlock()
		rwc.Close()
		return
	}
	p.idle = append(p.idle, rwc)
	if len(p.idle) == p.maxSize {
		p.startReclaim()
	}
	p.cond.Signal()
	p.mu.Unlock()
}

// Destroy immediately frees a communicator from the pool.  This should be
// used instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	if rw == nil {
		return
	}
	if rwc, ok := rw.(io.Closer); ok {
		rwc.Close()
	}
	p.mu.Lock()
	p.onLease--
	// wake a blocked Get; there is no connection to hand it, but there is
	// capacity for it to dial a fresh one
	p.cond.Signal()
	p.mu.Unlock()
}

// ReturnWithError returns rw with Put if err is nil, otherwise Destroys it.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if rw == nil {
		return
	}
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Close frees all pooled connections and marks the pool closed; Get errors
// afterwards, including Gets already blocked.  It is idempotent.
// Connections currently on lease are closed when their holders return them.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.timer.Stop()
	for _, c := range p.idle {
		c.Close()
	}
	p.idle = nil
	p.cond.Broadcast()
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.onLease
}

// Active returns the number of connections owned by the pool that are
// currently given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// startReclaim spawns another goroutine which will be used to close all
// connections in the pool.  The caller must hold p.mu.
func (p *Pool) startReclaim() {
	p.timer.Reset(p.timeout)
	if p.reclaiming {
		// the goroutine from a previous cycle is still parked on the
		// timer; the reset above re-arms it
		return
	}
	p.reclaiming = true
	go func() {
		// wait until the timeout has elapsed, then close everything
		<-p.timer.C
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, c := range p.idle {
			c.Close()
		}
		p.idle = p.idle[:0]
		p.reclaiming = false
	}()
}
