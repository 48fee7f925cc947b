// Package ftpget downloads a single file over FTP.
//
// # Overview
//
// Given an RFC 1738 URL of the form
//
//	ftp://[user:password@]host/path
//
// a Session resolves the host, opens the control connection on port 21,
// logs in (anonymously when the URL has no credentials), negotiates a
// passive-mode data connection with PASV, sends RETR and streams the data
// connection into a local file named after the last path segment.
//
// Active mode, TLS, listings and resumed transfers are not supported.
//
// # Basic Usage
//
//	res, err := ftpget.Download(ctx, "ftp://ftp.example.com/pub/file.txt",
//	    ftpget.WithTimeout(10*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%s: %d bytes\n", res.LocalName, res.Bytes)
//
// # Stepping a Session
//
// Download is a loop over Session.Step. Each Step performs exactly one
// transition and can be driven by hand, which is useful to inspect the
// negotiated endpoints:
//
//	s, err := ftpget.NewSession(url)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	for s.State() != ftpget.StatePassiveNegotiated {
//	    if err := s.Step(ctx); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//	fmt.Println("data endpoint:", s.DataEndpoint())
//
// # Error Handling
//
// Every failure is an *Error tagged with a Kind and the State the session
// was in. Match kinds with errors.Is against the sentinel values, or map them
// to process exit codes with ExitCode:
//
//	if errors.Is(err, ftpget.ErrPasvParse) {
//	    // the server's PASV reply had no (h1,h2,h3,h4,p1,p2) tuple
//	}
//
// Replies refused by a strict session carry a *ProtocolError with the
// command, reply text and code.
package ftpget
