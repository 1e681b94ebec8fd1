package kawasaki

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Dialer establishes the raw transport to the controller. A *net.Dialer
// satisfies it for plain TCP; SSHJumpDialer tunnels through a bastion when
// the robot network is not directly routable.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// connect establishes the transport, retrying up to the configured attempt
// count. Each attempt is announced through the status callback, and the
// delay between attempts is skipped after the final failure.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.cfg.Port))
	attempts := c.cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.callbacks.emitStatus(fmt.Sprintf("Connecting to %s (attempt %d)...", addr, attempt))
		c.logger.Debug("dialing %s, attempt %d/%d", addr, attempt, attempts)

		conn, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			// Baseline deadline; every later phase sets its own before
			// each read or write.
			_ = conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout))
			return conn, nil
		}
		lastErr = err
		c.logger.Error("dial %s failed: %v", addr, err)

		if attempt < attempts {
			c.callbacks.emitStatus(fmt.Sprintf("Connect failed, retrying in %v...", c.cfg.RetryDelay))
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, WrapError(ErrCancelled, "backup cancelled", ctx.Err())
			}
		}
	}

	return nil, WrapError(ErrConnect,
		fmt.Sprintf("could not connect to %s after %d attempts", addr, attempts), lastErr)
}

// closeConn tears the transport down on every exit path. Both directions
// are shut down first so the controller sees a proper disconnect even when
// the session aborts mid-stream; all of it is best effort.
func closeConn(conn net.Conn, logger Logger) {
	type shutdowner interface {
		CloseRead() error
		CloseWrite() error
	}
	if s, ok := conn.(shutdowner); ok {
		_ = s.CloseRead()
		_ = s.CloseWrite()
	}
	if err := conn.Close(); err != nil {
		logger.Debug("close: %v", err)
	}
}
