package ftpget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/gonzalop/ftpget/internal/ratelimit"
)

// State is a step of the download state machine. States only move forward.
type State int

const (
	StateInit State = iota
	StateResolved
	StateControlOpen
	StateLoggedIn
	StatePassiveNegotiated
	StateDataOpen
	StateTransferring
	StateDone
)

var stateNames = [...]string{
	StateInit:              "init",
	StateResolved:          "resolved",
	StateControlOpen:       "control-open",
	StateLoggedIn:          "logged-in",
	StatePassiveNegotiated: "passive-negotiated",
	StateDataOpen:          "data-open",
	StateTransferring:      "transferring",
	StateDone:              "done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result describes a completed download.
type Result struct {
	SessionID  string
	RemotePath string
	LocalName  string
	Bytes      int64
	Elapsed    time.Duration
}

// Session downloads one file. Each call to Step performs one transition:
//
//	init → resolved → control-open → logged-in → passive-negotiated →
//	data-open → transferring → done
//
// The first failure is terminal: the session closes whatever it opened and
// every later Step returns the same error. A Session is not safe for
// concurrent use; cancel the context passed to Step or Run to abort it.
type Session struct {
	id      string
	rawURL  string
	cfg     *config
	logger  *slog.Logger
	limiter *ratelimit.Limiter

	state     State
	err       error
	creds     Credentials
	target    Target
	controlEP Endpoint
	dataEP    Endpoint
	retrReply *Reply
	bytes     int64
	started   time.Time

	// mu guards ctrl and data against the cancellation callback.
	mu   sync.Mutex
	ctrl *ControlConn
	data *DataConn
}

// NewSession prepares a download of rawURL. Nothing is parsed or dialed
// until the first Step.
func NewSession(rawURL string, options ...Option) (*Session, error) {
	cfg, err := newConfig(options...)
	if err != nil {
		return nil, err
	}

	id := ksuid.New().String()
	return &Session{
		id:      id,
		rawURL:  rawURL,
		cfg:     cfg,
		logger:  cfg.logger.With("session", id),
		limiter: ratelimit.New(cfg.bytesPerSec),
		state:   StateInit,
	}, nil
}

// Download runs a complete session for rawURL and writes the file named after
// the last path segment into the configured filesystem.
//
// Example:
//
//	res, err := ftpget.Download(ctx, "ftp://ftp.example.com/pub/README")
//	if err != nil {
//	    os.Exit(ftpget.ExitCode(err))
//	}
//	fmt.Printf("wrote %d bytes to %s\n", res.Bytes, res.LocalName)
func Download(ctx context.Context, rawURL string, options ...Option) (*Result, error) {
	s, err := NewSession(rawURL, options...)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return s.Run(ctx)
}

// ID returns the session's unique, time-ordered identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Credentials returns the login pair parsed from the URL (valid from StateResolved).
func (s *Session) Credentials() Credentials { return s.creds }

// Target returns the remote host and path (valid from StateResolved).
func (s *Session) Target() Target { return s.target }

// ControlEndpoint returns the resolved command endpoint (valid from StateResolved).
func (s *Session) ControlEndpoint() Endpoint { return s.controlEP }

// DataEndpoint returns the endpoint decoded from PASV (valid from StatePassiveNegotiated).
func (s *Session) DataEndpoint() Endpoint { return s.dataEP }

// Run steps the session until it is done or fails.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.started = time.Now()
	s.logger.Info("starting download")

	for s.state != StateDone {
		if err := s.Step(ctx); err != nil {
			s.logger.Error("download failed", "state", s.state, "error", err)
			return nil, err
		}
	}

	res := &Result{
		SessionID:  s.id,
		RemotePath: s.target.Path,
		LocalName:  s.target.LocalName(),
		Bytes:      s.bytes,
		Elapsed:    time.Since(s.started),
	}
	s.logger.Info("download complete", "file", res.LocalName, "bytes", res.Bytes, "elapsed", res.Elapsed)
	return res, nil
}

// Step performs the transition out of the current state.
func (s *Session) Step(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	if s.state == StateDone {
		return errors.New("ftpget: session already done")
	}

	stop := context.AfterFunc(ctx, s.interrupt)
	defer stop()

	from := s.state
	var err error
	switch s.state {
	case StateInit:
		err = s.resolve(ctx)
	case StateResolved:
		err = s.openControl(ctx)
	case StateControlOpen:
		err = s.login()
	case StateLoggedIn:
		err = s.negotiatePassive()
	case StatePassiveNegotiated:
		err = s.openData(ctx)
	case StateDataOpen:
		err = s.transfer(ctx)
	case StateTransferring:
		err = s.finish()
	}

	if err != nil {
		var e *Error
		if errors.As(err, &e) && ctx.Err() != nil {
			e.Err = fmt.Errorf("%w: %w", ctx.Err(), e.Err)
		}
		s.err = err
		_ = s.Close()
		return err
	}

	s.state++
	s.logger.Debug("state transition", "from", from, "to", s.state)
	return nil
}

// Close releases both connections, data first. It is safe to call more than
// once and on every exit path.
func (s *Session) Close() error {
	return errors.Join(s.closeData(), s.closeControl())
}

func (s *Session) closeData() error {
	s.mu.Lock()
	data := s.data
	s.data = nil
	s.mu.Unlock()

	if data == nil {
		return nil
	}
	return ignoreClosed(data.Close())
}

func (s *Session) closeControl() error {
	s.mu.Lock()
	ctrl := s.ctrl
	s.ctrl = nil
	s.mu.Unlock()

	if ctrl == nil {
		return nil
	}
	return ignoreClosed(ctrl.Close())
}

// interrupt unblocks pending I/O when the context is cancelled. The
// connections stay registered so Close still releases them.
func (s *Session) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data != nil {
		_ = s.data.conn.Close()
	}
	if s.ctrl != nil {
		_ = s.ctrl.conn.Close()
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// fail tags err with kind and the current state. Errors that are already
// tagged keep their kind.
func (s *Session) fail(kind Kind, err error) error {
	if e, ok := err.(*Error); ok {
		e.State = s.state
		return e
	}
	return newError(kind, s.state, err)
}

// resolve parses the URL and resolves the host.
func (s *Session) resolve(ctx context.Context) error {
	creds, target, err := ParseURL(s.rawURL)
	if err != nil {
		return s.fail(KindMalformedURL, err)
	}
	s.creds, s.target = creds, target

	if creds.User == DefaultUser {
		s.logger.Info("parsed url", "host", target.Host, "path", target.Path)
	} else {
		s.logger.Info("parsed url", "user", creds.User, "host", target.Host, "path", target.Path)
	}

	addr, err := resolveHost(ctx, s.cfg.resolver, target.Host)
	if err != nil {
		return s.fail(KindResolution, err)
	}
	s.controlEP = Endpoint{Address: addr, Port: s.cfg.controlPort}

	s.logger.Info("resolved host", "host", target.Host, "ip", addr)
	return nil
}

// openControl connects to the command port and consumes the greeting.
func (s *Session) openControl(ctx context.Context) error {
	ctrl, err := dialControl(ctx, s.cfg, s.controlEP)
	if err != nil {
		return s.fail(KindControlConnect, err)
	}
	s.mu.Lock()
	s.ctrl = ctrl
	s.mu.Unlock()

	greeting, err := ctrl.ReadReply()
	if err != nil {
		return s.fail(KindControlConnect, fmt.Errorf("failed to read greeting: %w", err))
	}
	if s.cfg.strict && greeting.Code != 220 {
		return s.fail(KindControlConnect, unexpectedReply("CONNECT", greeting))
	}

	s.logger.Info("connected to server", "addr", s.controlEP.String())
	return nil
}

// login sends USER and PASS. Lenient sessions always send both and ignore
// the reply codes.
func (s *Session) login() error {
	reply, err := s.ctrl.Cmd("USER", s.creds.User)
	if err != nil {
		return s.fail(KindTransfer, err)
	}

	if s.cfg.strict {
		switch reply.Code {
		case 230:
			// No password required.
			return nil
		case 331, 332:
		default:
			return s.fail(KindAuth, unexpectedReply("USER", reply))
		}
	}

	reply, err = s.ctrl.Cmd("PASS", s.creds.Password)
	if err != nil {
		return s.fail(KindTransfer, err)
	}
	if s.cfg.strict && reply.Code != 230 && reply.Code != 202 {
		return s.fail(KindAuth, unexpectedReply("PASS", reply))
	}

	s.logger.Info("logged in", "user", s.creds.User)
	return nil
}

// negotiatePassive sends PASV and decodes the data endpoint from the reply.
func (s *Session) negotiatePassive() error {
	reply, err := s.ctrl.Cmd("PASV")
	if err != nil {
		return s.fail(KindTransfer, err)
	}
	if s.cfg.strict && !reply.Is2xx() {
		return s.fail(KindPasvParse, unexpectedReply("PASV", reply))
	}

	ep, err := ParsePASV(reply.String())
	if err != nil {
		return s.fail(KindPasvParse, err)
	}

	s.dataEP = resolveDataAddr(ep, s.controlEP.Address)
	s.logger.Debug("passive mode negotiated", "addr", s.dataEP.String())
	return nil
}

// openData connects to the negotiated data endpoint.
func (s *Session) openData(ctx context.Context) error {
	data, err := dialData(ctx, s.cfg, s.dataEP)
	if err != nil {
		return s.fail(KindDataConnect, err)
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// transfer sends RETR and drains the data connection into the output file.
// A failed drain leaves the partial file in place.
func (s *Session) transfer(ctx context.Context) error {
	reply, err := s.ctrl.Cmd("RETR", s.target.Path)
	if err != nil {
		return s.fail(KindTransfer, err)
	}
	if s.cfg.strict && !reply.Is1xx() && !reply.Is2xx() {
		return s.fail(KindTransfer, unexpectedReply("RETR", reply))
	}
	s.retrReply = reply

	name := s.target.LocalName()
	f, err := createOutput(s.cfg.fs, name)
	if err != nil {
		return s.fail(KindFileOpen, err)
	}
	s.logger.Info("created output file", "file", name)

	var w io.Writer = f
	w = ratelimit.NewWriter(ctx, w, s.limiter)
	if s.cfg.progress != nil {
		w = &ProgressWriter{Writer: w, Callback: s.cfg.progress}
	}

	n, drainErr := s.data.DrainTo(w)
	closeErr := f.Close()
	s.bytes = n

	if drainErr != nil {
		return s.fail(KindTransfer, drainErr)
	}
	if closeErr != nil {
		return s.fail(KindTransfer, fmt.Errorf("failed to close %s: %w", name, closeErr))
	}

	s.logger.Info("finished writing file", "file", name, "bytes", n)
	return nil
}

// finish closes the data connection, then (strict only) reads the
// completion reply, then closes the control connection.
func (s *Session) finish() error {
	if err := s.closeData(); err != nil {
		return s.fail(KindTransfer, fmt.Errorf("failed to close data connection: %w", err))
	}

	if s.cfg.strict && !s.retrReply.Is2xx() {
		reply, err := s.ctrl.ReadReply()
		if err != nil {
			return s.fail(KindTransfer, fmt.Errorf("failed to read completion reply: %w", err))
		}
		if !reply.Is2xx() {
			return s.fail(KindTransfer, unexpectedReply("RETR", reply))
		}
	}

	if err := s.closeControl(); err != nil {
		return s.fail(KindTransfer, fmt.Errorf("failed to close control connection: %w", err))
	}
	return nil
}
