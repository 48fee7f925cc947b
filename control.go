package ftpget

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// Reply represents an FTP server reply on the control connection.
type Reply struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Message is the human-readable text with the code prefixes removed
	Message string

	// Lines contains all raw lines of the reply (more than one for multi-line replies)
	Lines []string
}

// Is1xx returns true if the reply is a positive preliminary reply.
func (r *Reply) Is1xx() bool {
	return r.Code >= 100 && r.Code < 200
}

// Is2xx returns true if the reply is a positive completion reply.
func (r *Reply) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// Is3xx returns true if the reply is a positive intermediate reply.
func (r *Reply) Is3xx() bool {
	return r.Code >= 300 && r.Code < 400
}

// Is4xx returns true if the reply is a transient negative completion reply.
func (r *Reply) Is4xx() bool {
	return r.Code >= 400 && r.Code < 500
}

// Is5xx returns true if the reply is a permanent negative completion reply.
func (r *Reply) Is5xx() bool {
	return r.Code >= 500 && r.Code < 600
}

// String returns the full reply as received, one line per raw line.
func (r *Reply) String() string {
	return strings.Join(r.Lines, "\n")
}

// readReply reads one complete reply from the reader.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	"    any text\r\n"
//	"220 Ready\r\n"
//
// The reply is complete when a line starts with the same code followed by a
// space. Intermediate lines are not required to carry the code.
func readReply(r *bufio.Reader) (*Reply, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	if len(line) < 3 {
		return nil, fmt.Errorf("invalid reply line: %q", line)
	}
	code, err := strconv.Atoi(line[0:3])
	if err != nil || code < 100 || code > 599 {
		return nil, fmt.Errorf("invalid reply code: %q", line[0:3])
	}

	lines := []string{line}

	// Some servers omit the separator on text-less replies.
	if len(line) == 3 {
		return &Reply{Code: code, Lines: lines}, nil
	}

	switch line[3] {
	case ' ':
		return &Reply{Code: code, Message: line[4:], Lines: lines}, nil
	case '-':
	default:
		return nil, fmt.Errorf("invalid reply format: %q", line)
	}

	codeStr := line[0:3]
	messages := []string{line[4:]}
	for {
		line, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("unexpected EOF in multi-line reply %s", codeStr)
			}
			return nil, err
		}
		lines = append(lines, line)

		if line == codeStr {
			break
		}
		if len(line) >= 4 && line[0:3] == codeStr && (line[3] == ' ' || line[3] == '-') {
			messages = append(messages, line[4:])
			if line[3] == ' ' {
				break
			}
			continue
		}
		messages = append(messages, strings.TrimLeft(line, " "))
	}

	return &Reply{
		Code:    code,
		Message: strings.Join(messages, "\n"),
		Lines:   lines,
	}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return "", fmt.Errorf("reply line not terminated: %q", line)
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ControlConn is the command connection to an FTP server. It sends one
// command at a time and reads one reply; it keeps no login state, the caller
// decides which command comes next.
type ControlConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	logger  *slog.Logger
}

// DialControl connects to the command port at ep. The greeting is left
// unread; call ReadReply to consume it.
func DialControl(ctx context.Context, ep Endpoint, options ...Option) (*ControlConn, error) {
	cfg, err := newConfig(options...)
	if err != nil {
		return nil, err
	}
	return dialControl(ctx, cfg, ep)
}

func dialControl(ctx context.Context, cfg *config, ep Endpoint) (*ControlConn, error) {
	conn, err := dial(ctx, cfg, ep)
	if err != nil {
		return nil, err
	}

	return &ControlConn{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: cfg.timeout,
		logger:  cfg.logger,
	}, nil
}

// SendCommand writes the command and its space-separated arguments followed
// by CRLF, in a single write.
func (c *ControlConn) SendCommand(command string, args ...string) error {
	cmd := command
	if len(args) > 0 {
		cmd = fmt.Sprintf("%s %s", command, strings.Join(args, " "))
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return fmt.Errorf("command %s contains a line terminator", command)
	}

	c.logger.Debug("ftp command", "cmd", redact(command, cmd))

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if _, err := fmt.Fprintf(c.conn, "%s\r\n", cmd); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// ReadReply blocks until one complete reply has been received.
func (c *ControlConn) ReadReply() (*Reply, error) {
	// Set on the connection, not the bufio.Reader.
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	reply, err := readReply(c.reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}

	c.logger.Debug("ftp reply", "code", reply.Code, "message", reply.Message)
	return reply, nil
}

// Cmd sends a command and reads its reply.
func (c *ControlConn) Cmd(command string, args ...string) (*Reply, error) {
	if err := c.SendCommand(command, args...); err != nil {
		return nil, err
	}
	return c.ReadReply()
}

// Close closes the control connection without sending QUIT.
func (c *ControlConn) Close() error {
	return c.conn.Close()
}

func redact(command, line string) string {
	if strings.EqualFold(command, "PASS") {
		return command + " ****"
	}
	return line
}
