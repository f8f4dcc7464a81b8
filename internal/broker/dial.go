package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/korrosivesec/yarals/internal/sentinel"
)

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 5 * time.Second

// DefaultPollInterval is the delay between attempts in WaitListening.
const DefaultPollInterval = 50 * time.Millisecond

// Dialer opens channels to one host:port.
type Dialer struct {
	Host    string
	Port    int
	Timeout time.Duration // per attempt, default DefaultDialTimeout

	// OnFault (optional) is called once with the first transport fault of
	// each channel, in addition to the Faults delivery.
	OnFault func(error)

	// Logger (optional, defaults to slog.Default())
	Logger *slog.Logger
}

func (d Dialer) addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d Dialer) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Dial makes exactly one connection attempt. Every call opens a new,
// independent Channel. Failures are returned as *ConnectError; a canceled ctx
// is returned as the context error.
func (d Dialer) Dial(ctx context.Context) (*Channel, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.addr())
	if err != nil {
		if ctxErr := contextDone(ctx); ctxErr != nil {
			return nil, fmt.Errorf("dial %s: %w", d.addr(), ctxErr)
		}
		ce := classify(d.Host, d.Port, err)
		d.logger().Debug("dial failed", "addr", d.addr(), "kind", ce.Kind, "error", err)
		return nil, ce
	}
	d.logger().Debug("connected", "addr", d.addr(), "local", conn.LocalAddr().String())
	return newChannel(conn, d.OnFault), nil
}

// contextDone returns the ctx error, or context.DeadlineExceeded once the
// deadline has passed but the context timer has not fired yet. The dialer
// reports that window as an i/o timeout.
func contextDone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return context.DeadlineExceeded
	}
	return nil
}

// Dial is shorthand for Dialer{Host: host, Port: port}.Dial(ctx).
func Dial(ctx context.Context, host string, port int) (*Channel, error) {
	return Dialer{Host: host, Port: port}.Dial(ctx)
}

// WaitConfig configures WaitListening.
type WaitConfig struct {
	Interval time.Duration // default DefaultPollInterval
	Timeout  time.Duration // overall bound, required

	// Exited aborts the wait when closed, e.g. the server process exit channel.
	Exited <-chan struct{}
}

// ErrServerExited is returned by WaitListening when the server process exits
// before it starts listening.
const ErrServerExited = sentinel.Error("server process exited before listening")

// WaitListening polls with trial connections until the server accepts one,
// the server exits, or the timeout expires. Refused attempts are retried;
// other connect errors are retried too since the address is local and may not
// be routable for a moment. Each trial connection is closed immediately.
func (d Dialer) WaitListening(ctx context.Context, cfg WaitConfig) error {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("wait for %s: timeout must be positive, got %s", d.addr(), cfg.Timeout)
	}

	log := d.logger()
	attempt := 0
	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, interval, cfg.Timeout, true,
		func(pollCtx context.Context) (bool, error) {
			if cfg.Exited != nil {
				select {
				case <-cfg.Exited:
					return false, ErrServerExited
				default:
				}
			}

			attempt++
			trial := d
			trial.OnFault = nil
			trial.Timeout = min(interval*4, d.timeoutOrDefault())
			ch, err := trial.Dial(pollCtx)
			if err != nil {
				// An attempt cut short by the poll deadline says nothing about
				// the server; keep the previous attempt's error.
				var ce *ConnectError
				if lastErr == nil || errors.As(err, &ce) {
					lastErr = err
				}
				return false, nil
			}
			_ = ch.Close()
			log.Debug("server listening", "addr", d.addr(), "attempt", attempt)
			return true, nil
		})
	if err != nil {
		if lastErr != nil && !errors.Is(err, ErrServerExited) {
			return fmt.Errorf("wait for %s after %d attempts: %w (last: %w)", d.addr(), attempt, err, lastErr)
		}
		return fmt.Errorf("wait for %s: %w", d.addr(), err)
	}
	return nil
}

func (d Dialer) timeoutOrDefault() time.Duration {
	if d.Timeout <= 0 {
		return DefaultDialTimeout
	}
	return d.Timeout
}
