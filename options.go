package ftpget

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/afero"
)

// DefaultTimeout bounds connects and every control/data read or write.
const DefaultTimeout = 30 * time.Second

// Option is a functional option for configuring a download session.
type Option func(*config) error

type config struct {
	timeout     time.Duration
	logger      *slog.Logger
	dialer      Dialer
	resolver    Resolver
	fs          afero.Fs
	bytesPerSec int64
	progress    func(bytesWritten int64)
	strict      bool
	controlPort int
}

func newConfig(options ...Option) (*config, error) {
	cfg := &config{
		timeout:     DefaultTimeout,
		logger:      slog.New(slog.DiscardHandler),
		dialer:      &net.Dialer{},
		resolver:    NetResolver{},
		fs:          afero.NewOsFs(),
		strict:      true,
		controlPort: ControlPort,
	}

	for _, opt := range options {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return cfg, nil
}

// WithTimeout sets the timeout for connecting and for each read or write on
// either connection. Zero disables timeouts: a stalled server then blocks
// until the context is cancelled.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return fmt.Errorf("negative timeout %s", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithLogger enables logging using the provided logger.
// Commands and replies are logged at debug level, with PASS arguments redacted.
//
// Example:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	res, err := ftpget.Download(ctx, url, ftpget.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		c.logger = logger
		return nil
	}
}

// WithDialer sets the dialer used for both the control and data connections.
func WithDialer(dialer Dialer) Option {
	return func(c *config) error {
		if dialer == nil {
			return errors.New("nil dialer")
		}
		c.dialer = dialer
		return nil
	}
}

// WithResolver sets the hostname resolver. The default uses the system resolver.
func WithResolver(resolver Resolver) Option {
	return func(c *config) error {
		if resolver == nil {
			return errors.New("nil resolver")
		}
		c.resolver = resolver
		return nil
	}
}

// WithFs sets the filesystem the output file is created on. Relative names
// resolve against its working directory. The default is the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(c *config) error {
		if fs == nil {
			return errors.New("nil filesystem")
		}
		c.fs = fs
		return nil
	}
}

// WithBandwidthLimit caps the rate at which received data is persisted, in
// bytes per second. Zero means unlimited.
func WithBandwidthLimit(bytesPerSec int64) Option {
	return func(c *config) error {
		if bytesPerSec < 0 {
			return fmt.Errorf("negative bandwidth limit %d", bytesPerSec)
		}
		c.bytesPerSec = bytesPerSec
		return nil
	}
}

// WithProgress registers a callback invoked after every chunk written to the
// output file with the running total.
func WithProgress(fn func(bytesWritten int64)) Option {
	return func(c *config) error {
		c.progress = fn
		return nil
	}
}

// WithStrict toggles reply-code checking. Strict sessions (the default)
// require a 220 greeting, a 230 login, a 1xx/2xx RETR reply and a 2xx
// completion reply. Lenient sessions read every reply but act on none,
// trusting the server to follow the expected order.
func WithStrict(strict bool) Option {
	return func(c *config) error {
		c.strict = strict
		return nil
	}
}

// WithControlPort overrides the command port (21). It exists for servers
// bound to unprivileged ports, such as in tests; URLs still cannot carry a port.
func WithControlPort(port int) Option {
	return func(c *config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid control port %d", port)
		}
		c.controlPort = port
		return nil
	}
}
