package kawasaki

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHJumpDialer dials the controller through an SSH bastion host. Robot
// cells are commonly reachable only from a cell PC or gateway; this dialer
// opens a direct-tcpip channel from that gateway to the controller's
// terminal port.
//
// SSH channels do not honor read deadlines, so the returned connection is
// wrapped to provide real deadline behavior; the backup engine depends on
// it for its timeout handling.
type SSHJumpDialer struct {
	// Addr is the bastion address as host:port.
	Addr string
	// User is the SSH login name on the bastion.
	User string
	// Password enables password authentication when non-empty.
	Password string
	// KeyFile enables public key authentication when non-empty.
	KeyFile string
	// KnownHostsFile verifies the bastion host key when non-empty.
	// When empty the host key is not checked; acceptable on an isolated
	// cell network, not on anything routable.
	KnownHostsFile string
	// Timeout bounds the bastion TCP connect and SSH handshake.
	Timeout time.Duration
}

// DialContext connects to the bastion and opens a channel to address. The
// returned connection closes the SSH client along with the channel.
func (d *SSHJumpDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	config, err := d.clientConfig()
	if err != nil {
		return nil, err
	}

	raw, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial bastion %s: %w", d.Addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(raw, d.Addr, config)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", d.Addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	tunneled, err := client.DialContext(ctx, network, address)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("dial %s via %s: %w", address, d.Addr, err)
	}

	return newDeadlineConn(tunneled, client), nil
}

func (d *SSHJumpDialer) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if d.KeyFile != "" {
		key, err := os.ReadFile(d.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if d.Password != "" {
		auth = append(auth, ssh.Password(d.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh jump: no authentication configured")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if d.KnownHostsFile != "" {
		cb, err := knownhosts.New(d.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            d.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.Timeout,
	}, nil
}

type readResult struct {
	data []byte
	err  error
}

// deadlineConn adds read deadline support to a connection whose transport
// has none. A pump goroutine owns the raw read side; Read serves buffered
// bytes until the configured deadline passes, returning the same timeout
// error a *net.TCPConn would.
//
// Reads and deadline updates are expected from a single goroutine, which
// is how the backup engine drives its transport.
type deadlineConn struct {
	raw   net.Conn
	owner interface{ Close() error }

	readc chan readResult
	quit  chan struct{}
	once  sync.Once

	pending  []byte
	readErr  error
	deadline time.Time
}

func newDeadlineConn(raw net.Conn, owner interface{ Close() error }) *deadlineConn {
	d := &deadlineConn{
		raw:   raw,
		owner: owner,
		readc: make(chan readResult),
		quit:  make(chan struct{}),
	}
	go d.pump()
	return d
}

func (d *deadlineConn) pump() {
	for {
		buf := make([]byte, streamChunkSize)
		n, err := d.raw.Read(buf)
		res := readResult{err: err}
		if n > 0 {
			res.data = buf[:n]
		}
		select {
		case d.readc <- res:
		case <-d.quit:
			return
		}
		if err != nil {
			return
		}
	}
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	if len(d.pending) > 0 {
		n := copy(p, d.pending)
		d.pending = d.pending[n:]
		return n, nil
	}
	if d.readErr != nil {
		return 0, d.readErr
	}

	var timer <-chan time.Time
	if !d.deadline.IsZero() {
		remain := time.Until(d.deadline)
		if remain <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(remain)
		defer t.Stop()
		timer = t.C
	}

	select {
	case res := <-d.readc:
		d.pending = res.data
		if res.err != nil {
			d.readErr = res.err
		}
		n := copy(p, d.pending)
		d.pending = d.pending[n:]
		if n > 0 {
			return n, nil
		}
		return 0, d.readErr
	case <-timer:
		return 0, os.ErrDeadlineExceeded
	case <-d.quit:
		return 0, net.ErrClosed
	}
}

func (d *deadlineConn) Write(p []byte) (int, error) { return d.raw.Write(p) }

func (d *deadlineConn) Close() error {
	var err error
	d.once.Do(func() {
		close(d.quit)
		err = d.raw.Close()
		if d.owner != nil {
			if cerr := d.owner.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

func (d *deadlineConn) LocalAddr() net.Addr  { return d.raw.LocalAddr() }
func (d *deadlineConn) RemoteAddr() net.Addr { return d.raw.RemoteAddr() }

func (d *deadlineConn) SetDeadline(t time.Time) error { return d.SetReadDeadline(t) }

func (d *deadlineConn) SetReadDeadline(t time.Time) error {
	d.deadline = t
	return nil
}

// SetWriteDeadline is accepted and ignored; SSH channel writes are bounded
// by the channel window rather than a deadline.
func (d *deadlineConn) SetWriteDeadline(time.Time) error { return nil }
