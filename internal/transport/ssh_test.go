package transport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/fleetdeploy/fleetdeploy/internal/secrets"
	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

// execBehavior scripts the remote side of one exec request. cmd is the
// command line the client sent; the behavior owns the channel.
type execBehavior func(cmd string, ch ssh.Channel)

func startServer(t *testing.T, behave execBehavior) (addr string, clientKeyPEM []byte) {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	clientPub, clientKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keyBlock, err := ssh.MarshalPrivateKey(clientKey, "")
	require.NoError(t, err)
	authorized, err := ssh.NewPublicKey(clientPub)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if !bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, errors.New("unknown key")
			}
			return nil, nil
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg, behave)
		}
	}()

	return ln.Addr().String(), pem.EncodeToMemory(keyBlock)
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig, behave execBehavior) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func(ch ssh.Channel, chReqs <-chan *ssh.Request) {
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				ssh.Unmarshal(req.Payload, &payload)
				req.Reply(true, nil)
				behave(payload.Command, ch)
				return
			}
		}(ch, chReqs)
	}
}

func sendExit(ch ssh.Channel, status uint32) {
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	ch.Close()
}

func dialTest(t *testing.T, addr string, keyPEM []byte) Client {
	t.Helper()
	dialer := NewSSHDialer(5 * time.Second)
	client, err := dialer.Dial(context.Background(),
		model.Target{Label: "vm1", Host: addr},
		secrets.Credential{User: "deploy", PrivateKey: keyPEM},
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func writeArtifact(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bundle.js"), bytes.Repeat([]byte("a"), size), 0o644))
	return dir
}

func TestExecNonzeroExitIsAResultNotAnError(t *testing.T) {
	addr, keyPEM := startServer(t, func(_ string, ch ssh.Channel) {
		io.WriteString(ch, "npm ERR! missing script: build\n")
		sendExit(ch, 1)
	})
	client := dialTest(t, addr, keyPEM)

	res, err := client.Exec(context.Background(), "npm run build", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitStatus)
	assert.Contains(t, res.Output, "missing script")
}

func TestExecSuccessCollectsOutput(t *testing.T) {
	addr, keyPEM := startServer(t, func(cmd string, ch ssh.Channel) {
		io.WriteString(ch, "ran: "+cmd+"\n")
		sendExit(ch, 0)
	})
	client := dialTest(t, addr, keyPEM)

	res, err := client.Exec(context.Background(), "pm2 save", 5*time.Second)
	require.NoError(t, err)
	assert.Zero(t, res.ExitStatus)
	assert.Contains(t, res.Output, "ran: pm2 save")
}

func TestExecTimeoutIsDistinctFromExitStatus(t *testing.T) {
	addr, keyPEM := startServer(t, func(_ string, ch ssh.Channel) {
		// Never report an exit; hold the channel open until the client
		// gives up and closes it.
		io.Copy(io.Discard, ch)
		ch.Close()
	})
	client := dialTest(t, addr, keyPEM)

	_, err := client.Exec(context.Background(), "npm ci", 100*time.Millisecond)
	var timeoutErr *model.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, model.ErrTimeout, model.Classify(err))
}

func TestCopyStreamsArtifactAndReplacesDir(t *testing.T) {
	cmds := make(chan string, 1)
	received := make(chan []byte, 1)
	addr, keyPEM := startServer(t, func(cmd string, ch ssh.Channel) {
		cmds <- cmd
		data, _ := io.ReadAll(ch)
		received <- data
		sendExit(ch, 0)
	})
	client := dialTest(t, addr, keyPEM)

	artifact := writeArtifact(t, 512)
	require.NoError(t, client.Copy(context.Background(), artifact, "~/app", 5*time.Second))

	cmd := <-cmds
	assert.Contains(t, cmd, `rm -rf "$HOME/app"`)
	assert.Contains(t, cmd, `tar -xf - -C "$HOME/app"`)
	assert.Contains(t, string(<-received), "bundle.js")
}

func TestCopyReturnsWhenRemoteExitsWithoutReadingStdin(t *testing.T) {
	addr, keyPEM := startServer(t, func(_ string, ch ssh.Channel) {
		// A failed rm/mkdir ends the shell before tar consumes stdin.
		io.WriteString(ch.Stderr(), "rm: cannot remove: Permission denied\n")
		sendExit(ch, 1)
	})
	client := dialTest(t, addr, keyPEM)

	// Large enough that the archive writer cannot fit in pipe buffers
	// and must block on a reader.
	artifact := writeArtifact(t, 1<<20)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Copy(context.Background(), artifact, "~/app", 2*time.Second)
	}()

	select {
	case err := <-errCh:
		var transportErr *model.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, model.ErrTransport, model.Classify(err))
	case <-time.After(8 * time.Second):
		t.Fatal("Copy never returned after the remote exited early")
	}
}

func TestCopyTimeoutWhenRemoteStalls(t *testing.T) {
	addr, keyPEM := startServer(t, func(_ string, ch ssh.Channel) {
		// Consume the stream but never exit; the client must cut the
		// session when its timeout elapses.
		io.Copy(io.Discard, ch)
		ch.Close()
	})
	client := dialTest(t, addr, keyPEM)

	artifact := writeArtifact(t, 1<<20)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Copy(context.Background(), artifact, "~/app", 200*time.Millisecond)
	}()

	select {
	case err := <-errCh:
		var timeoutErr *model.TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
	case <-time.After(8 * time.Second):
		t.Fatal("Copy never returned after its timeout elapsed")
	}
}

func TestDialRejectsBadKey(t *testing.T) {
	dialer := NewSSHDialer(time.Second)
	_, err := dialer.Dial(context.Background(),
		model.Target{Label: "vm1", Host: "127.0.0.1:1"},
		secrets.Credential{User: "deploy", PrivateKey: []byte("not a key")},
	)
	var transportErr *model.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "parse key", transportErr.Op)
}
