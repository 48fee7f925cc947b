package ftpget

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpget/internal/ftptest"
)

func TestReadReply(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		input       string
		wantCode    int
		wantMessage string
		wantLines   int
	}{
		{
			name:        "single line",
			input:       "220 Service ready\r\n",
			wantCode:    220,
			wantMessage: "Service ready",
			wantLines:   1,
		},
		{
			name:        "bare LF terminator",
			input:       "331 Password required\n",
			wantCode:    331,
			wantMessage: "Password required",
			wantLines:   1,
		},
		{
			name:        "code only",
			input:       "226\r\n",
			wantCode:    226,
			wantMessage: "",
			wantLines:   1,
		},
		{
			name:        "multi-line",
			input:       "220-Welcome\r\n220-to the\r\n220 server\r\n",
			wantCode:    220,
			wantMessage: "Welcome\nto the\nserver",
			wantLines:   3,
		},
		{
			name:        "multi-line with uncoded lines",
			input:       "230-Welcome\r\n  Please read the rules\r\n230 Logged in\r\n",
			wantCode:    230,
			wantMessage: "Welcome\nPlease read the rules\nLogged in",
			wantLines:   3,
		},
		{
			name:        "multi-line ended by bare code",
			input:       "211-Features\r\n MDTM\r\n211\r\n",
			wantCode:    211,
			wantMessage: "Features\nMDTM",
			wantLines:   3,
		},
		{
			name:        "other code inside multi-line",
			input:       "220-Hello\r\n550 not the end\r\n220 Ready\r\n",
			wantCode:    220,
			wantMessage: "Hello\n550 not the end\nReady",
			wantLines:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := readReply(bufio.NewReader(strings.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, reply.Code)
			assert.Equal(t, tt.wantMessage, reply.Message)
			assert.Len(t, reply.Lines, tt.wantLines)
		})
	}
}

func TestReadReply_Sequential(t *testing.T) {
	t.Parallel()
	r := bufio.NewReader(strings.NewReader("331 Need password\r\n230 Logged in\r\n"))

	first, err := readReply(r)
	require.NoError(t, err)
	assert.Equal(t, 331, first.Code)

	second, err := readReply(r)
	require.NoError(t, err)
	assert.Equal(t, 230, second.Code)
}

func TestReadReply_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", "22\r\n"},
		{"not a number", "abc Hello\r\n"},
		{"code out of range", "999 Hello\r\n"},
		{"bad separator", "220xHello\r\n"},
		{"unterminated line", "220 Hello"},
		{"truncated multi-line", "220-Hello\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readReply(bufio.NewReader(strings.NewReader(tt.input)))
			assert.Error(t, err)
		})
	}
}

func TestReply_Classes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code                    int
		is1, is2, is3, is4, is5 bool
	}{
		{150, true, false, false, false, false},
		{227, false, true, false, false, false},
		{331, false, false, true, false, false},
		{421, false, false, false, true, false},
		{530, false, false, false, false, true},
	}

	for _, tt := range tests {
		r := &Reply{Code: tt.code}
		assert.Equal(t, tt.is1, r.Is1xx(), "code %d", tt.code)
		assert.Equal(t, tt.is2, r.Is2xx(), "code %d", tt.code)
		assert.Equal(t, tt.is3, r.Is3xx(), "code %d", tt.code)
		assert.Equal(t, tt.is4, r.Is4xx(), "code %d", tt.code)
		assert.Equal(t, tt.is5, r.Is5xx(), "code %d", tt.code)
	}
}

// pipeControl returns a ControlConn wired to the client end of an in-memory
// pipe and a reader over the server end.
func pipeControl(t *testing.T, logger *slog.Logger) (*ControlConn, net.Conn, *bufio.Reader) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	c := &ControlConn{
		conn:    client,
		reader:  bufio.NewReader(client),
		timeout: 5 * time.Second,
		logger:  logger,
	}
	return c, server, bufio.NewReader(server)
}

func TestControlConn_Cmd(t *testing.T) {
	t.Parallel()
	c, server, serverReader := pipeControl(t, slog.New(slog.DiscardHandler))

	got := make(chan string, 1)
	go func() {
		line, _ := serverReader.ReadString('\n')
		got <- line
		_, _ = server.Write([]byte("331 Password required\r\n"))
	}()

	reply, err := c.Cmd("USER", "alice")
	require.NoError(t, err)
	assert.Equal(t, "USER alice\r\n", <-got)
	assert.Equal(t, 331, reply.Code)
	assert.Equal(t, "Password required", reply.Message)
}

func TestControlConn_SendCommandNoArgs(t *testing.T) {
	t.Parallel()
	c, _, serverReader := pipeControl(t, slog.New(slog.DiscardHandler))

	got := make(chan string, 1)
	go func() {
		line, _ := serverReader.ReadString('\n')
		got <- line
	}()

	require.NoError(t, c.SendCommand("PASV"))
	assert.Equal(t, "PASV\r\n", <-got)
}

func TestControlConn_RejectsLineTerminators(t *testing.T) {
	t.Parallel()
	c, _, _ := pipeControl(t, slog.New(slog.DiscardHandler))

	err := c.SendCommand("RETR", "file\r\nDELE file")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line terminator")
}

func TestControlConn_RedactsPassword(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, _, serverReader := pipeControl(t, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = serverReader.ReadString('\n')
	}()

	require.NoError(t, c.SendCommand("PASS", "hunter2"))
	<-done

	assert.Contains(t, logs.String(), "PASS ****")
	assert.NotContains(t, logs.String(), "hunter2")
}

func TestControlConn_ReadTimeout(t *testing.T) {
	t.Parallel()
	c, _, _ := pipeControl(t, slog.New(slog.DiscardHandler))
	c.timeout = 50 * time.Millisecond

	_, err := c.ReadReply()
	require.Error(t, err)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestDialControl(t *testing.T) {
	t.Parallel()
	srv := ftptest.NewServer(t)
	srv.Greeting = "220-Welcome\r\n220 Ready"
	srv.Start()

	c, err := DialControl(context.Background(), Endpoint{Address: "127.0.0.1", Port: srv.Port()},
		WithTimeout(5*time.Second))
	require.NoError(t, err)
	defer c.Close()

	greeting, err := c.ReadReply()
	require.NoError(t, err)
	assert.Equal(t, 220, greeting.Code)
	assert.Equal(t, "Welcome\nReady", greeting.Message)

	reply, err := c.Cmd("NOOP")
	require.NoError(t, err)
	assert.True(t, reply.Is5xx())
	assert.Equal(t, []string{"NOOP"}, srv.Commands())
}

func TestDialControl_InvalidPort(t *testing.T) {
	t.Parallel()
	_, err := DialControl(context.Background(), Endpoint{Address: "127.0.0.1", Port: 70000})
	assert.Error(t, err)
}
