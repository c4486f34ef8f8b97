package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Options configures SSHDialer.
type Options struct {
	Port           int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// KnownHostsPath enables host key verification. Empty accepts any key.
	KnownHostsPath string
}

// SSHDialer dials nodes over SSH with password authentication.
type SSHDialer struct {
	opts     Options
	hostKeys ssh.HostKeyCallback
	logger   otelzap.LoggerWithCtx
}

// NewSSHDialer creates a dialer; it fails only if the known_hosts file
// cannot be loaded.
func NewSSHDialer(logger otelzap.LoggerWithCtx, opts Options) (*SSHDialer, error) {
	if opts.Port == 0 {
		opts.Port = 22
	}

	hostKeys := ssh.InsecureIgnoreHostKey() // #nosec G106 -- opt-in verification via ssh.known_hosts
	if opts.KnownHostsPath != "" {
		cb, err := knownhosts.New(opts.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts %s: %w", opts.KnownHostsPath, err)
		}
		hostKeys = cb
	} else {
		logger.Warn("SSH host keys are not verified; set ssh.known_hosts to enable verification")
	}

	return &SSHDialer{opts: opts, hostKeys: hostKeys, logger: logger}, nil
}

// Dial connects and authenticates within the connect timeout.
func (d *SSHDialer) Dial(ctx context.Context, creds Credentials) (Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	addr := creds.HostPort(d.opts.Port)

	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: d.hostKeys,
		Timeout:         d.opts.ConnectTimeout,
	}

	d.logger.Debug("Opening SSH session",
		zap.String("target", creds.String()),
		zap.String("addr", addr))

	dialer := net.Dialer{Timeout: d.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, connectionError(creds, err)
	}

	// bound the handshake too; a half-open peer would otherwise hang here
	if d.opts.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(d.opts.ConnectTimeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, connectionError(creds, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshSession{
		client:         ssh.NewClient(c, chans, reqs),
		creds:          creds,
		commandTimeout: d.opts.CommandTimeout,
		logger:         d.logger,
	}, nil
}

type sshSession struct {
	client         *ssh.Client
	creds          Credentials
	commandTimeout time.Duration
	logger         otelzap.LoggerWithCtx
}

// bind applies the command timeout to ctx and closes the connection when it
// expires, so a peer that stops answering cannot block channel opens, reads
// or writes. A session whose operation timed out is unusable afterwards.
func (s *sshSession) bind(ctx context.Context) (context.Context, func()) {
	var cancel context.CancelFunc
	if s.commandTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.commandTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	stop := context.AfterFunc(ctx, func() { _ = s.client.Close() })
	return ctx, func() {
		stop()
		cancel()
	}
}

// expired turns a failure caused by the bound context into ErrTimeout.
func expired(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, what, ctxErr)
	}
	return err
}

func (s *sshSession) Run(ctx context.Context, command string) (Result, error) {
	ctx, release := s.bind(ctx)
	defer release()

	sess, err := s.client.NewSession()
	if err != nil {
		return Result{ExitStatus: -1}, connectionError(s.creds, expired(ctx, fmt.Sprintf("%q", command), err))
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	s.logger.Debug("Executing remote command",
		zap.String("target", s.creds.String()),
		zap.String("command", command))

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Close()
		// the copiers still own the buffers until Run returns
		<-done
		return Result{Output: stdout.String(), Stderr: stderr.String(), ExitStatus: -1},
			connectionError(s.creds, expired(ctx, fmt.Sprintf("%q", command), ctx.Err()))
	case err = <-done:
	}

	res := Result{Output: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitStatus = exitErr.ExitStatus()
		return res, nil
	}
	res.ExitStatus = -1
	return res, connectionError(s.creds, expired(ctx, fmt.Sprintf("%q", command), err))
}

func (s *sshSession) Upload(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return transferError(remotePath, err)
	}
	defer src.Close()

	ctx, release := s.bind(ctx)
	defer release()

	client, err := sftp.NewClient(s.client)
	if err != nil {
		return transferError(remotePath, expired(ctx, "sftp", err))
	}
	defer client.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return transferError(remotePath, expired(ctx, "create", err))
	}

	s.logger.Debug("Uploading file",
		zap.String("target", s.creds.String()),
		zap.String("src", localPath),
		zap.String("dst", remotePath))

	n, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src})
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return transferError(remotePath, expired(ctx, "write", err))
	}

	s.logger.Debug("Upload finished", zap.String("dst", remotePath), zap.Int64("bytes", n))
	return nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
