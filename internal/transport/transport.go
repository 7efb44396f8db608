// Package transport abstracts "copy files to host" and "run a command
// on host" so the deployment pipeline depends on those two contracts
// rather than on a concrete remote protocol.
package transport

import (
	"context"
	"strings"
	"time"

	"github.com/fleetdeploy/fleetdeploy/internal/secrets"
	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

// ExecResult is the remote command outcome. A nonzero ExitStatus is a
// normal result here; callers decide whether it fails their step.
type ExecResult struct {
	ExitStatus int
	Output     string
}

// Client is a connection to one target host.
type Client interface {
	// Copy replaces remoteDir with the contents of localPath.
	// Delete-then-write: no stale files survive, and the destination
	// need not pre-exist. Exceeding timeout yields a
	// model.TimeoutError.
	Copy(ctx context.Context, localPath, remoteDir string, timeout time.Duration) error

	// Exec runs command in a single remote shell session so working
	// directory and environment state persist across its steps.
	// Exceeding timeout yields a model.TimeoutError, distinct from a
	// nonzero exit status.
	Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error)

	Close() error
}

// Dialer opens Clients. The orchestrator holds a Dialer so tests can
// substitute a fake fleet.
type Dialer interface {
	Dial(ctx context.Context, target model.Target, cred secrets.Credential) (Client, error)
}

// Quote wraps s in single quotes for safe interpolation into a remote
// shell command.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RemotePath renders a remote directory as a shell word, expanding a
// leading ~/ against the remote $HOME.
func RemotePath(dir string) string {
	if dir == "~" {
		return `"$HOME"`
	}
	if rest, ok := strings.CutPrefix(dir, "~/"); ok {
		return `"$HOME/` + rest + `"`
	}
	return Quote(dir)
}
