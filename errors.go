package ftpget

import (
	"errors"
	"fmt"
)

// Kind classifies a download failure. Every kind is terminal: a session that
// fails never retries or resumes.
type Kind int

const (
	// KindUsage is reported by callers that reject their own input (for
	// example a CLI invoked with the wrong number of arguments).
	KindUsage Kind = iota + 1
	KindMalformedURL
	KindResolution
	KindControlConnect
	KindDataConnect
	KindPasvParse
	KindFileOpen
	// KindAuth is a login refused by the server (strict mode only).
	KindAuth
	// KindTransfer covers I/O failures on an established connection and
	// replies a strict session refuses.
	KindTransfer
)

var kindNames = map[Kind]string{
	KindUsage:          "usage error",
	KindMalformedURL:   "malformed url",
	KindResolution:     "resolution error",
	KindControlConnect: "control connect error",
	KindDataConnect:    "data connect error",
	KindPasvParse:      "pasv parse error",
	KindFileOpen:       "file open error",
	KindAuth:           "auth error",
	KindTransfer:       "transfer error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ExitCode returns the process status a command-line front end should use
// for this kind of failure. Codes 1-7 follow the historical ftp download
// tool; 8 and 9 cover failures only strict mode detects.
func (k Kind) ExitCode() int {
	switch k {
	case KindUsage:
		return 1
	case KindMalformedURL:
		return 2
	case KindResolution:
		return 3
	case KindControlConnect:
		return 4
	case KindDataConnect:
		return 5
	case KindPasvParse:
		return 6
	case KindFileOpen:
		return 7
	case KindAuth:
		return 8
	default:
		return 9
	}
}

// Sentinel errors for use with errors.Is. They match any *Error of the same
// kind, regardless of state or cause.
var (
	ErrUsage          = &Error{Kind: KindUsage}
	ErrMalformedURL   = &Error{Kind: KindMalformedURL}
	ErrResolution     = &Error{Kind: KindResolution}
	ErrControlConnect = &Error{Kind: KindControlConnect}
	ErrDataConnect    = &Error{Kind: KindDataConnect}
	ErrPasvParse      = &Error{Kind: KindPasvParse}
	ErrFileOpen       = &Error{Kind: KindFileOpen}
	ErrAuth           = &Error{Kind: KindAuth}
	ErrTransfer       = &Error{Kind: KindTransfer}
)

// Error is the tagged failure returned by a download session. State is the
// state the session was in when the failing transition started.
type Error struct {
	Kind  Kind
	State State
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return "ftpget: " + e.Kind.String()
	}
	return fmt.Sprintf("ftpget: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ExitCode maps err to a process exit status: 0 for nil, the kind's code for
// an *Error anywhere in the chain, and the generic failure code otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.ExitCode()
	}
	return KindTransfer.ExitCode()
}

func newError(kind Kind, state State, err error) *Error {
	return &Error{Kind: kind, State: state, Err: err}
}

// ProtocolError represents an FTP reply that a strict session refused to
// accept. It carries the command/reply exchange for diagnostics.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "PASS")
	Command string

	// Response is the reply text received from the server (e.g., "Login incorrect.")
	Response string

	// Code is the numeric FTP reply code (e.g., 530)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// IsTemporary returns true if the reply was a transient negative completion (4xx).
func (e *ProtocolError) IsTemporary() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsPermanent returns true if the reply was a permanent negative completion (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Code >= 500 && e.Code < 600
}

func unexpectedReply(command string, reply *Reply) *ProtocolError {
	return &ProtocolError{
		Command:  command,
		Response: reply.Message,
		Code:     reply.Code,
	}
}
