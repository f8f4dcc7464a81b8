package broker

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// Channel is a bidirectional byte stream to the server. Read and Write pass
// through to the connection. Transport faults that happen after the
// connection was established are published on Faults, never as a
// ConnectError.
type Channel struct {
	conn net.Conn

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	faultOnce sync.Once
	faults    chan error
	first     atomic.Pointer[error]
	onFault   func(error)
}

func newChannel(conn net.Conn, onFault func(error)) *Channel {
	return &Channel{
		conn:    conn,
		closed:  make(chan struct{}),
		faults:  make(chan error, 1),
		onFault: onFault,
	}
}

// Read reads from the server.
func (c *Channel) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if err != nil {
		c.fault(err)
	}
	return n, err
}

// Write writes to the server.
func (c *Channel) Write(p []byte) (int, error) {
	n, err := c.conn.Write(p)
	if err != nil {
		c.fault(err)
	}
	return n, err
}

// Close closes the connection. Safe to call more than once; every call
// returns the first result.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.conn.Close()
		// Faults closes with the channel so consumers ranging over it return.
		c.faultOnce.Do(func() {})
		close(c.faults)
	})
	return c.closeErr
}

// Closed returns a channel that is closed once Close has been called.
func (c *Channel) Closed() <-chan struct{} {
	return c.closed
}

// Faults delivers at most one transport fault. It is closed when the
// channel is closed.
func (c *Channel) Faults() <-chan error {
	return c.faults
}

// Fault returns the transport fault published on Faults, or nil.
func (c *Channel) Fault() error {
	if p := c.first.Load(); p != nil {
		return *p
	}
	return nil
}

// LocalAddr returns the local end of the connection.
func (c *Channel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the server end of the connection.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// fault publishes the first non-EOF error. Errors caused by our own Close
// are not faults.
func (c *Channel) fault(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	select {
	case <-c.closed:
		return
	default:
	}
	c.faultOnce.Do(func() {
		c.first.Store(&err)
		c.faults <- err
		if c.onFault != nil {
			c.onFault(err)
		}
	})
}
