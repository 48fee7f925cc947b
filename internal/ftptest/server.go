// Package ftptest provides a scripted FTP server for tests.
//
// The server accepts control connections on 127.0.0.1, answers USER, PASS,
// PASV and RETR with sensible defaults, serves file contents from memory on a
// passive data listener, and records every command it receives. Individual
// commands can be overridden with handlers.
package ftptest

import (
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
)

// Handler answers one command. args is everything after the first space.
type Handler func(s *Server, conn *textproto.Conn, args string)

// Server is a single-session scripted FTP server.
type Server struct {
	t        *testing.T
	listener net.Listener

	// Greeting is sent when a client connects. Empty sends nothing.
	Greeting string

	// Files maps RETR paths to their contents.
	Files map[string][]byte

	mu           sync.Mutex
	handlers     map[string]Handler
	commands     []string
	conn         net.Conn
	dataListener net.Listener
	running      bool
	done         chan struct{}
}

// NewServer starts listening on a random local port. Call Start to begin
// serving; the server is stopped by t.Cleanup.
func NewServer(t *testing.T) *Server {
	t.Helper()

	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := &Server{
		t:        t,
		listener: l,
		Greeting: "220 Service ready",
		Files:    make(map[string][]byte),
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	t.Cleanup(s.stop)
	return s
}

// Addr returns the control listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port returns the control listener port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Handle overrides the reply to cmd.
func (s *Server) Handle(cmd string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToUpper(cmd)] = h
}

// Commands returns the commands received so far, verbs upper-cased, with
// their arguments.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Start serves a single control connection in the background.
func (s *Server) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		textConn := textproto.NewConn(conn)
		defer textConn.Close()

		if s.Greeting != "" {
			if err := textConn.PrintfLine("%s", s.Greeting); err != nil {
				return
			}
		}

		for {
			line, err := textConn.ReadLine()
			if err != nil {
				return
			}

			parts := strings.SplitN(line, " ", 2)
			cmd := strings.ToUpper(parts[0])
			args := ""
			if len(parts) > 1 {
				args = parts[1]
			}

			s.mu.Lock()
			s.commands = append(s.commands, strings.TrimSpace(cmd+" "+args))
			handler, ok := s.handlers[cmd]
			s.mu.Unlock()

			if ok {
				handler(s, textConn, args)
				continue
			}

			switch cmd {
			case "USER":
				_ = textConn.PrintfLine("331 User name okay, need password.")
			case "PASS":
				_ = textConn.PrintfLine("230 User logged in, proceed.")
			case "PASV":
				s.replyPASV(textConn)
			case "RETR":
				s.serveRETR(textConn, args)
			case "QUIT":
				_ = textConn.PrintfLine("221 Service closing control connection.")
				return
			default:
				_ = textConn.PrintfLine("502 Command not implemented.")
			}
		}
	}()
}

// OpenDataListener opens the passive data listener and returns its port.
// PASV handlers use it to advertise an endpoint.
func (s *Server) OpenDataListener() int {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		s.t.Errorf("data listener: %v", err)
		return 0
	}

	s.mu.Lock()
	s.dataListener = l
	s.mu.Unlock()
	return l.Addr().(*net.TCPAddr).Port
}

// PASVTuple formats the standard "h1,h2,h3,h4,p1,p2" tuple for a port on 127.0.0.1.
func PASVTuple(port int) string {
	return fmt.Sprintf("127,0,0,1,%d,%d", port/256, port%256)
}

func (s *Server) replyPASV(conn *textproto.Conn) {
	port := s.OpenDataListener()
	_ = conn.PrintfLine("227 Entering Passive Mode (%s).", PASVTuple(port))
}

// AcceptData waits for the client to open the data connection announced by
// the last PASV reply.
func (s *Server) AcceptData() (net.Conn, error) {
	s.mu.Lock()
	l := s.dataListener
	s.mu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("no data listener")
	}
	return l.Accept()
}

// ServeData accepts the data connection, writes content and closes it.
func (s *Server) ServeData(content []byte) error {
	conn, err := s.AcceptData()
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write(content)
	return err
}

func (s *Server) serveRETR(conn *textproto.Conn, path string) {
	s.mu.Lock()
	content, ok := s.Files[path]
	s.mu.Unlock()

	if !ok {
		_ = conn.PrintfLine("550 %s: No such file.", path)
		return
	}

	_ = conn.PrintfLine("150 Opening BINARY mode data connection for %s (%d bytes).", path, len(content))
	if err := s.ServeData(content); err != nil {
		_ = conn.PrintfLine("426 Connection closed; transfer aborted.")
		return
	}
	_ = conn.PrintfLine("226 Transfer complete.")
}

func (s *Server) stop() {
	s.listener.Close()

	s.mu.Lock()
	if s.dataListener != nil {
		s.dataListener.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	running := s.running
	s.mu.Unlock()

	if running {
		<-s.done
	}
}
