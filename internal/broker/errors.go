package broker

import (
	"errors"
	"fmt"
	"syscall"
)

// ConnectKind classifies a failed connection attempt.
type ConnectKind int

const (
	// ConnectRefused means nothing accepted the connection on host:port.
	ConnectRefused ConnectKind = iota + 1
	// ConnectOther covers every other failure (timeout, unreachable, ...).
	ConnectOther
)

// String returns the lower-case kind name used in logs and metric labels.
func (k ConnectKind) String() string {
	switch k {
	case ConnectRefused:
		return "refused"
	case ConnectOther:
		return "other"
	default:
		return fmt.Sprintf("ConnectKind(%d)", int(k))
	}
}

// ConnectError is returned by Dial when the connection cannot be established.
type ConnectError struct {
	Kind ConnectKind
	Host string
	Port int
	Err  error
}

// Error returns the raw transport message. It is surfaced to users verbatim
// for ConnectOther.
func (e *ConnectError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// classify wraps a dial error. Only ECONNREFUSED is reported as refused.
func classify(host string, port int, err error) *ConnectError {
	kind := ConnectOther
	if errors.Is(err, syscall.ECONNREFUSED) {
		kind = ConnectRefused
	}
	return &ConnectError{Kind: kind, Host: host, Port: port, Err: err}
}

// IsRefused reports whether err is a ConnectError of kind ConnectRefused.
func IsRefused(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce) && ce.Kind == ConnectRefused
}
