package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/vizor/vizor/pkg/telemetry"
)

// errFileTooLarge is returned when a remote file exceeds the read limit.
var errFileTooLarge = errors.New("remote file exceeds the configured limit")

// Client is one SSH connection with an SFTP session to a single host.
type Client struct {
	address string
	user    string
	config  *Config
	logger  *telemetry.Logger

	mu          sync.RWMutex
	ssh         *ssh.Client
	sftp        *sftp.Client
	connectedAt time.Time
	lastUsedAt  time.Time
	stop        chan struct{}
}

// NewClient creates an unconnected client for user at address (host:port).
func NewClient(address, user string, config *Config) *Client {
	logger := config.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Client{
		address: address,
		user:    user,
		config:  config,
		logger:  logger.NewComponentLogger("sftp").WithField("address", address),
	}
}

// Connect dials the host and opens the SFTP session. Connecting a connected
// client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig(c.user)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	c.logger.WithField("user", c.user).Debug("establishing SSH connection")

	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", c.address)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: !isAuthFailure(err),
			IsAuthError: isAuthFailure(err),
		}
	}
	_ = conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(sshConn, chans, reqs)
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}

	c.ssh = sshClient
	c.sftp = sftpClient
	c.connectedAt = time.Now()
	c.lastUsedAt = c.connectedAt
	c.stop = make(chan struct{})

	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive(sshClient, c.stop)
	}

	c.logger.Info("SSH connection established")
	return nil
}

// Disconnect closes the SFTP session and the SSH connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ssh == nil {
		return nil
	}

	c.logger.Debug("closing SSH connection")

	close(c.stop)
	_ = c.sftp.Close()
	err := c.ssh.Close()
	c.sftp = nil
	c.ssh = nil

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsConnected reports whether the client holds an open session.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sftp != nil
}

// HealthCheck verifies the SFTP session still answers requests.
func (c *Client) HealthCheck(_ context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.sftp == nil {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}
	if _, err := c.sftp.Getwd(); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

// ReadFile reads the remote file at path. limit caps the number of bytes read;
// zero means no limit.
func (c *Client) ReadFile(ctx context.Context, path string, limit int64) ([]byte, error) {
	c.mu.Lock()
	client := c.sftp
	c.lastUsedAt = time.Now()
	c.mu.Unlock()

	if client == nil {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("not connected")}
	}

	start := time.Now()
	f, err := client.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	var src io.Reader = f
	if limit > 0 {
		src = io.LimitReader(f, limit+1)
	}
	n, err := copyWithContext(ctx, &buf, src)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: fmt.Errorf("failed to read remote file: %w", err), IsTemporary: true}
	}
	if limit > 0 && n > limit {
		return nil, fmt.Errorf("%w (%d bytes)", errFileTooLarge, limit)
	}

	c.logger.WithFields(map[string]interface{}{
		"path":     path,
		"bytes":    n,
		"duration": time.Since(start).String(),
	}).Debug("remote file read")

	return buf.Bytes(), nil
}

// keepAlive pings the server until stop is closed or a ping fails.
func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.WithError(err).Warn("keep-alive failed")
				return
			}
		}
	}
}

// copyWithContext copies src to dst, checking ctx between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}
