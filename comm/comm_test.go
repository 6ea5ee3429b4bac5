package comm_test

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/amsikking/asi-MS-2000-500-CP/comm"
)

// tcpEchoServer starts an echo loopback on an ephemeral port and returns
// its address.
func tcpEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

func echoMaker(addr string) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
}

func TestPoolFillsToCapacity(t *testing.T) {
	const poolSize = 3
	addr := tcpEchoServer(t)
	pool := comm.NewPool(poolSize, time.Second, echoMaker(addr))
	defer pool.Close()
	for i := 0; i < poolSize; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		if conn == nil {
			t.Fatal("got nil connection without error")
		}
	}
	if pool.Size() != poolSize {
		t.Errorf("pool size %d, expected %d", pool.Size(), poolSize)
	}
	if pool.Active() != poolSize {
		t.Errorf("pool active %d, expected %d", pool.Active(), poolSize)
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(3, time.Second, echoMaker(addr))
	defer pool.Close()
	conn1, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn1)
	conn2, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	if conn1 != conn2 {
		t.Error("pool did not reuse the returned connection")
	}
	if pool.Size() != 1 {
		t.Errorf("pool size %d, expected 1", pool.Size())
	}
	pool.Put(conn2)
}

func TestPoolExpiresIdleConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, 10*time.Millisecond, echoMaker(addr))
	defer pool.Close()
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	time.Sleep(100 * time.Millisecond)
	if pool.Size() != 0 {
		t.Errorf("pool size %d after idle timeout, expected 0", pool.Size())
	}
}

func TestPoolBlocksWhenEmpty(t *testing.T) {
	const poolSize = 2
	addr := tcpEchoServer(t)
	pool := comm.NewPool(poolSize, time.Second, echoMaker(addr))
	defer pool.Close()
	held := []io.ReadWriter{}
	for i := 0; i < poolSize; i++ {
		rw, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		held = append(held, rw)
	}
	newConn := make(chan io.ReadWriter, 1)
	// now that they are all taken out, try to get a new one
	go func() {
		rw, _ := pool.Get()
		newConn <- rw
	}()
	select {
	case <-newConn:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(100 * time.Millisecond):
	}
	// returning one unblocks the waiter
	pool.Put(held[0])
	select {
	case <-newConn:
	case <-time.After(time.Second):
		t.Fatal("waiter was not unblocked by a returned connection")
	}
}

func TestPoolDestroyWakesBlockedGet(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, echoMaker(addr))
	defer pool.Close()
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	got := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		got <- rw
	}()
	// let the second Get park on the exhausted pool
	time.Sleep(50 * time.Millisecond)
	pool.Destroy(conn)
	select {
	case rw := <-got:
		if rw == nil {
			t.Fatal("woken Get returned a nil connection")
		}
		pool.Put(rw)
	case <-time.After(time.Second):
		t.Fatal("Get stayed blocked after the only lease was destroyed")
	}
}

func TestPoolCloseUnblocksWaiters(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, echoMaker(addr))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	errs := make(chan error, 1)
	go func() {
		_, err := pool.Get()
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	pool.Close()
	select {
	case err := <-errs:
		if err != comm.ErrPoolClosed {
			t.Errorf("blocked Get returned %v on Close, expected ErrPoolClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Get stayed blocked through Close")
	}
	pool.Put(conn) // returned after close, should be swallowed quietly
}

func TestPoolDestroyShrinksPool(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, echoMaker(addr))
	defer pool.Close()
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Destroy(conn)
	if pool.Size() != 0 {
		t.Errorf("pool size %d after destroy, expected 0", pool.Size())
	}
	// the next Get dials fresh
	conn, err = pool.Get()
	if err != nil {
		t.Fatal("could not get fresh connection after destroy:", err)
	}
	pool.Put(conn)
}

func TestPoolReturnWithError(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, echoMaker(addr))
	defer pool.Close()
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.ReturnWithError(conn, io.EOF)
	if pool.Size() != 0 {
		t.Errorf("pool size %d after errored return, expected 0", pool.Size())
	}
	conn, err = pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.ReturnWithError(conn, nil)
	if pool.Size() != 1 {
		t.Errorf("pool size %d after clean return, expected 1", pool.Size())
	}
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, echoMaker(addr))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.Put(conn)
	pool.Close()
	pool.Close()
	if _, err := pool.Get(); err != comm.ErrPoolClosed {
		t.Errorf("Get on closed pool returned %v, expected ErrPoolClosed", err)
	}
}

// rwBuffer is an in-memory ReadWriter for framing tests.
type rwBuffer struct {
	rd *bytes.Buffer
	wr *bytes.Buffer
}

func (b *rwBuffer) Read(p []byte) (int, error)  { return b.rd.Read(p) }
func (b *rwBuffer) Write(p []byte) (int, error) { return b.wr.Write(p) }

func TestTerminatorAppendsTxTerm(t *testing.T) {
	buf := &rwBuffer{rd: &bytes.Buffer{}, wr: &bytes.Buffer{}}
	rw := comm.NewTerminator(buf, '\n', '\r')
	n, err := rw.Write([]byte("W X"))
	if err != nil {
		t.Fatal("write failed:", err)
	}
	if n != 3 {
		t.Errorf("write reported %d bytes, expected 3", n)
	}
	if got := buf.wr.String(); got != "W X\r" {
		t.Errorf("wrote %q, expected %q", got, "W X\r")
	}
}

func TestTerminatorStopsAtRxTerm(t *testing.T) {
	buf := &rwBuffer{rd: bytes.NewBufferString(":A \nX=1234 :A\n"), wr: &bytes.Buffer{}}
	rw := comm.NewTerminator(buf, '\n', '\r')
	out := make([]byte, 64)
	n, err := rw.Read(out)
	if err != nil {
		t.Fatal("read failed:", err)
	}
	if got := string(out[:n]); got != ":A " {
		t.Errorf("first line %q, expected %q", got, ":A ")
	}
	// the second reply must still be intact
	n, err = rw.Read(out)
	if err != nil {
		t.Fatal("second read failed:", err)
	}
	if got := string(out[:n]); got != "X=1234 :A" {
		t.Errorf("second line %q, expected %q", got, "X=1234 :A")
	}
}

func TestTerminatorBufferTooSmall(t *testing.T) {
	buf := &rwBuffer{rd: bytes.NewBufferString(strings.Repeat("a", 32) + "\n"), wr: &bytes.Buffer{}}
	rw := comm.NewTerminator(buf, '\n', '\r')
	out := make([]byte, 8)
	_, err := rw.Read(out)
	if err != comm.ErrTerminatorNotFound {
		t.Errorf("got %v, expected ErrTerminatorNotFound", err)
	}
}

func TestNewTimeoutPassThroughWithoutDeadlines(t *testing.T) {
	buf := &rwBuffer{rd: &bytes.Buffer{}, wr: &bytes.Buffer{}}
	rw := comm.NewTerminator(buf, '\n', '\r')
	wrapped, err := comm.NewTimeout(rw, time.Second)
	if err != nil {
		t.Fatal("NewTimeout failed:", err)
	}
	if wrapped != rw {
		t.Error("NewTimeout wrapped a chain with no deadline support")
	}
}

func TestNewTimeoutFindsConnThroughTerminator(t *testing.T) {
	addr := tcpEchoServer(t)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal("could not dial loopback:", err)
	}
	defer conn.Close()
	rw := comm.NewTerminator(conn, '\n', '\r')
	wrapped, err := comm.NewTimeout(rw, time.Second)
	if err != nil {
		t.Fatal("NewTimeout failed:", err)
	}
	if wrapped == rw {
		t.Fatal("NewTimeout did not find the net.Conn under the terminator")
	}
	// write on the bare conn so the echo carries the rx terminator back
	if _, err := conn.Write([]byte("hello\n")); err != nil {
		t.Fatal("write failed:", err)
	}
	out := make([]byte, 16)
	n, err := wrapped.Read(out)
	if err != nil {
		t.Fatal("read through wrappers failed:", err)
	}
	if got := string(out[:n]); got != "hello" {
		t.Errorf("read %q, expected %q", got, "hello")
	}
}

func TestBackingOffTCPConnMakerEventuallyFails(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping backoff expiry in short mode")
	}
	maker := comm.BackingOffTCPConnMaker("localhost:1", 50*time.Millisecond)
	start := time.Now()
	_, err := maker()
	if err == nil {
		t.Fatal("dial to a dead port succeeded")
	}
	if time.Since(start) > 10*time.Second {
		t.Error("backoff did not give up within its elapsed-time cap")
	}
}
