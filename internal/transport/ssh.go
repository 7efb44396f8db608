package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/fleetdeploy/fleetdeploy/internal/secrets"
	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

const defaultSSHPort = "22"

// SSHDialer opens SSH connections authenticated with the private key
// from the resolved credential.
type SSHDialer struct {
	// DialTimeout bounds the TCP+handshake phase.
	DialTimeout time.Duration

	// HostKeyCallback defaults to accepting any host key. Fleets in
	// this registry are provisioned VMs without distributed known_hosts.
	HostKeyCallback ssh.HostKeyCallback
}

func NewSSHDialer(dialTimeout time.Duration) *SSHDialer {
	return &SSHDialer{DialTimeout: dialTimeout}
}

func (d *SSHDialer) Dial(ctx context.Context, target model.Target, cred secrets.Credential) (Client, error) {
	signer, err := ssh.ParsePrivateKey(cred.PrivateKey)
	if err != nil {
		return nil, &model.TransportError{Op: "parse key", Err: err}
	}

	host := target.Host
	if cred.Host != "" {
		host = cred.Host
	}
	addr := host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultSSHPort)
	}

	hostKeyCallback := d.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	cfg := &ssh.ClientConfig{
		User:            cred.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.DialTimeout,
	}

	conn, err := (&net.Dialer{Timeout: d.DialTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &model.TransportError{Op: "dial", Err: err}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, &model.TransportError{Op: "handshake", Err: err}
	}

	return &sshClient{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

type sshClient struct {
	client *ssh.Client
}

func (c *sshClient) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return ExecResult{}, &model.TransportError{Op: "session", Err: err}
	}
	defer session.Close()

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf

	if err := session.Start(command); err != nil {
		return ExecResult{}, &model.TransportError{Op: "exec", Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		result := ExecResult{Output: buf.String()}
		if err == nil {
			return result, nil
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			result.ExitStatus = exitErr.ExitStatus()
			return result, nil
		}
		return result, &model.TransportError{Op: "exec", Err: err}
	case <-timer.C:
		session.Close()
		return ExecResult{Output: buf.String()}, &model.TimeoutError{Op: "exec", Timeout: timeout}
	case <-ctx.Done():
		session.Close()
		return ExecResult{Output: buf.String()}, ctx.Err()
	}
}

func (c *sshClient) Copy(ctx context.Context, localPath, remoteDir string, timeout time.Duration) error {
	session, err := c.client.NewSession()
	if err != nil {
		return &model.TransportError{Op: "session", Err: err}
	}
	defer session.Close()

	pr, pw := io.Pipe()
	session.Stdin = pr

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf

	dest := RemotePath(remoteDir)
	command := fmt.Sprintf("rm -rf %s && mkdir -p %s && tar -xf - -C %s", dest, dest, dest)
	if err := session.Start(command); err != nil {
		return &model.TransportError{Op: "copy", Err: err}
	}

	archiveErr := make(chan error, 1)
	go func() {
		err := writeTar(pw, localPath)
		pw.CloseWithError(err)
		archiveErr <- err
	}()

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		// The remote may exit without draining its stdin (a failed
		// rm/mkdir ends the shell early). Close the pipe reader so the
		// archive writer unblocks before collecting its verdict.
		pr.CloseWithError(err)
		aerr := <-archiveErr
		if err != nil {
			return &model.TransportError{Op: "copy", Err: fmt.Errorf("%w: %s", err, buf.String())}
		}
		if aerr != nil {
			return &model.TransportError{Op: "copy archive", Err: aerr}
		}
		return nil
	case <-timer.C:
		session.Close()
		pr.CloseWithError(context.DeadlineExceeded)
		<-archiveErr
		return &model.TimeoutError{Op: "copy", Timeout: timeout}
	case <-ctx.Done():
		session.Close()
		pr.CloseWithError(ctx.Err())
		<-archiveErr
		return ctx.Err()
	}
}

func (c *sshClient) Close() error {
	return c.client.Close()
}
