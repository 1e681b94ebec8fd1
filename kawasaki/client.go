package kawasaki

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Config holds session configuration.
type Config struct {
	// Port is the controller's terminal service port.
	Port int

	// Username is the AS monitor login name.
	Username string

	// Full selects a full controller image; the default saves program
	// data only.
	Full bool

	// OutputDir is the directory for the backup file and debug capture.
	OutputDir string

	// ProgressInterval is the byte spacing between progress reports.
	ProgressInterval int64

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration

	// ReadTimeout bounds each handshake wait and each streaming read.
	ReadTimeout time.Duration

	// ConnectRetries is the number of connection attempts before the
	// session fails.
	ConnectRetries int

	// RetryDelay is the wait between connection attempts.
	RetryDelay time.Duration
}

// DefaultConfig returns the settings that match a stock controller.
func DefaultConfig() *Config {
	return &Config{
		Port:             23,
		Username:         "as",
		OutputDir:        ".",
		ProgressInterval: DefaultProgressInterval,
		ConnectTimeout:   5 * time.Second,
		ReadTimeout:      10 * time.Second,
		ConnectRetries:   1,
		RetryDelay:       time.Second,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithConfig sets the session configuration.
func WithConfig(config *Config) Option {
	return func(c *Client) {
		c.cfg = config
	}
}

// WithCallbacks sets the session callbacks.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(c *Client) {
		c.callbacks = mergeCallbacks(callbacks)
	}
}

// WithLogger sets a logger for session debugging.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the plain TCP dialer, for example with an
// SSHJumpDialer when the controller sits behind a bastion.
func WithDialer(dialer Dialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// Client performs backups from a Kawasaki robot controller over its telnet
// terminal service.
//
// A Client drives one session at a time with a single thread of control;
// calling Run concurrently on the same instance is a caller error. Cancel
// is the only method safe to call from another goroutine while Run is in
// flight.
type Client struct {
	host     string
	baseName string
	safeName string

	cfg       *Config
	callbacks *Callbacks
	logger    Logger
	dialer    Dialer

	cancelled atomic.Bool
}

// New creates a backup client for the controller at host. baseName names
// the backup; it is sanitized once here and determines both the SAVE
// argument and the local file names.
func New(host, baseName string, opts ...Option) *Client {
	c := &Client{
		host:      host,
		baseName:  baseName,
		cfg:       DefaultConfig(),
		callbacks: defaultCallbacks(),
		logger:    NoopLogger{},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.safeName = SanitizeBaseName(c.baseName)
	if c.dialer == nil {
		c.dialer = &net.Dialer{Timeout: c.cfg.ConnectTimeout}
	}

	return c
}

// Cancel requests cancellation of an in-progress backup. Safe to call from
// another goroutine; the streaming loop observes the flag at the top of
// each iteration, so the abort lands within one read timeout. Records
// already decoded stay in the backup file; no partial record is written.
func (c *Client) Cancel() {
	c.cancelled.Store(true)
	c.callbacks.emitStatus("Backup cancellation requested.")
}

// Run executes the backup and blocks until it completes or fails. On
// success it returns the backup file path and the debug capture path. On
// failure the returned error is a *Error, delivered to the OnError
// callback exactly once before Run returns it.
//
// Cancelling ctx aborts the session the same way Cancel does.
func (c *Client) Run(ctx context.Context) (outputPath, debugPath string, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	outputPath = filepath.Join(c.cfg.OutputDir, c.safeName+"."+OutputExt)
	timestamp := time.Now().Format("20060102_150405")
	debugPath = filepath.Join(c.cfg.OutputDir,
		fmt.Sprintf("debug_%s_%s.log", c.safeName, timestamp))

	if err := c.session(ctx, outputPath, debugPath); err != nil {
		c.logger.Error("backup of %q from %s failed: %v", c.safeName, c.host, err)
		c.callbacks.emitError(err)
		return "", "", err
	}

	c.callbacks.emitStatus("Backup complete.")
	c.callbacks.emitComplete(outputPath, debugPath)
	return outputPath, debugPath, nil
}

// session owns the transport and both files for one backup attempt. All
// three are released on every exit path; the deferred close order is
// files first, then the forced transport shutdown.
func (c *Client) session(ctx context.Context, outputPath, debugPath string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer closeConn(conn, c.logger)

	c.callbacks.emitStatus("Connected. Waiting for login prompt...")
	c.logger.Info("connected to %s, saving %q (full=%v)", conn.RemoteAddr(), c.safeName, c.cfg.Full)

	out, err := os.Create(outputPath)
	if err != nil {
		return WrapError(ErrOutputWrite, "creating "+outputPath, err)
	}
	defer out.Close()

	dbg, err := os.Create(debugPath)
	if err != nil {
		return WrapError(ErrOutputWrite, "creating "+debugPath, err)
	}
	defer dbg.Close()

	h := &handshake{
		conn:      conn,
		cfg:       c.cfg,
		callbacks: c.callbacks,
		logger:    c.logger,
		capture:   dbg,
		safeName:  c.safeName,
	}
	if err := h.run(); err != nil {
		return err
	}

	return c.stream(ctx, conn, out, dbg)
}

// stream runs the record decode loop until the end-of-transfer marker.
//
// Each iteration checks for cancellation, performs one bounded read, then
// drains every complete record out of the receive buffer before looking
// for the end marker. Draining first guarantees a record is never lost for
// arriving in the same chunk as the marker. A read timeout or a closed
// peer yields an empty chunk and another iteration; only the end marker
// finishes the transfer.
func (c *Client) stream(ctx context.Context, conn net.Conn, out, dbg *os.File) error {
	c.callbacks.emitStatus("Receiving data records...")

	parser := &recordParser{}
	tracker := NewProgressTracker(c.callbacks.emitProgress, c.cfg.ProgressInterval)
	chunk := make([]byte, streamChunkSize)

	for {
		if c.cancelled.Load() {
			return NewError(ErrCancelled, "backup cancelled by user")
		}
		if err := ctx.Err(); err != nil {
			return WrapError(ErrCancelled, "backup cancelled", err)
		}

		data, err := readChunk(conn, chunk, c.cfg.ReadTimeout)
		if err != nil {
			return WrapError(ErrTransport, "reading record stream", err)
		}
		if len(data) > 0 {
			if _, werr := dbg.Write(data); werr != nil {
				return WrapError(ErrOutputWrite, "writing debug capture", werr)
			}
			parser.feed(data)
		}

		for {
			payload, ok := parser.next()
			if !ok {
				break
			}
			if _, werr := out.Write(payload); werr != nil {
				return WrapError(ErrOutputWrite, "writing backup file", werr)
			}
			tracker.Add(int64(len(payload)))
		}

		if parser.sawEOT() {
			break
		}
	}

	c.logger.Info("transfer complete: %d bytes in %v, %d undecoded bytes discarded",
		tracker.Total(), tracker.Complete(), parser.pending())
	return nil
}
