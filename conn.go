package ftpget

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ControlPort is the well-known FTP command port.
const ControlPort = 21

// Endpoint is an IPv4 address and TCP port, either the server's command port
// or a data port advertised by PASV.
type Endpoint struct {
	Address string
	Port    int
}

// String renders the endpoint as host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Dialer establishes outbound connections. *net.Dialer satisfies it; tests
// substitute their own to simulate unreachable servers.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

func dial(ctx context.Context, cfg *config, ep Endpoint) (net.Conn, error) {
	if ep.Port < 0 || ep.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", ep.Port)
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	cfg.logger.Debug("connecting", "addr", ep.String())
	conn, err := cfg.dialer.DialContext(ctx, "tcp4", ep.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", ep, err)
	}
	return conn, nil
}

// deadlineConn wraps a net.Conn and sets a read/write deadline before every operation.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (n int, err error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}
