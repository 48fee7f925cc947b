package ftpget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strconv"
)

// pasvRegex matches the PASV tuple anywhere in the reply, e.g.
// "227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)". Some servers put spaces
// after the commas.
var pasvRegex = regexp.MustCompile(`\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*\)`)

// drainBufferSize is the chunk size used to copy the data stream.
const drainBufferSize = 32 * 1024

// ParsePASV decodes the data endpoint from the text of a PASV reply.
// Example: "227 Entering Passive Mode (192,168,1,1,195,149)"
// Returns: {192.168.1.1 50069} (195*256 + 149 = 50069)
//
// The first parenthesized six-number group wins. A missing group or an
// out-of-range number is a KindPasvParse error.
func ParsePASV(text string) (Endpoint, error) {
	matches := pasvRegex.FindStringSubmatch(text)
	if len(matches) != 7 {
		return Endpoint{}, newError(KindPasvParse, StateLoggedIn,
			fmt.Errorf("no (h1,h2,h3,h4,p1,p2) tuple in reply %q", text))
	}

	var n [6]int
	for i := range n {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return Endpoint{}, newError(KindPasvParse, StateLoggedIn,
				fmt.Errorf("invalid PASV number %q in reply %q", matches[i+1], text))
		}
		n[i] = val
	}

	return Endpoint{
		Address: fmt.Sprintf("%d.%d.%d.%d", n[0], n[1], n[2], n[3]),
		Port:    n[4]*256 + n[5],
	}, nil
}

// resolveDataAddr replaces an unspecified PASV address (0.0.0.0) with the
// control connection's address.
func resolveDataAddr(ep Endpoint, controlAddr string) Endpoint {
	if ep.Address == "0.0.0.0" {
		ep.Address = controlAddr
	}
	return ep
}

// DataConn is the passive-mode data connection. It carries exactly one
// transfer; end of data is signalled by the server closing it.
type DataConn struct {
	conn   net.Conn
	logger *slog.Logger
}

// DialData connects to the data endpoint advertised by PASV.
func DialData(ctx context.Context, ep Endpoint, options ...Option) (*DataConn, error) {
	cfg, err := newConfig(options...)
	if err != nil {
		return nil, err
	}
	return dialData(ctx, cfg, ep)
}

func dialData(ctx context.Context, cfg *config, ep Endpoint) (*DataConn, error) {
	conn, err := dial(ctx, cfg, ep)
	if err != nil {
		return nil, err
	}

	if cfg.timeout > 0 {
		conn = &deadlineConn{Conn: conn, timeout: cfg.timeout}
	}
	return &DataConn{conn: conn, logger: cfg.logger}, nil
}

// DrainTo copies the stream to w until the server closes the connection and
// returns the number of bytes written. Chunks are written in arrival order.
func (d *DataConn) DrainTo(w io.Writer) (int64, error) {
	buf := make([]byte, drainBufferSize)
	var written int64

	for {
		n, readErr := d.conn.Read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, fmt.Errorf("failed to write data: %w", writeErr)
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				d.logger.Debug("data connection closed by server", "bytes", written)
				return written, nil
			}
			return written, fmt.Errorf("failed to read data: %w", readErr)
		}
	}
}

// Close closes the data connection.
func (d *DataConn) Close() error {
	return d.conn.Close()
}
