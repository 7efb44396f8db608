// Package script drives the remote deployment sequence as an explicit
// ordered list of named steps, each returning a typed outcome. Steps
// are idempotent: re-running the pipeline after a partial failure is
// safe.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fleetdeploy/fleetdeploy/internal/supervisor"
	"github.com/fleetdeploy/fleetdeploy/internal/transport"
	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

// Options bound the remote operations.
type Options struct {
	CopyTimeout time.Duration
	ExecTimeout time.Duration

	// Settle is the initial wait before polling the supervisor, since
	// freshly spawned processes compile and bind asynchronously.
	Settle time.Duration

	// ReadyDeadline bounds the poll-until-running verification.
	ReadyDeadline time.Duration
	PollInterval  time.Duration

	// RemoteUser and RemoteHome parameterize boot autostart
	// registration.
	RemoteUser string
	RemoteHome string
}

// Step is one named pipeline stage. Completes is the phase marked
// reached when the step succeeds; FailAs overrides the reported phase
// when the step fails (used by the verification step, which fails as
// PROCESS_STARTED).
type Step struct {
	Name      string
	Completes model.Phase
	FailAs    model.Phase
	Run       func(ctx context.Context) error
}

// Runner executes the deployment script against one target.
type Runner struct {
	client transport.Client
	sup    *supervisor.Manager
	target model.Target
	opts   Options
	logger *zap.Logger

	// OnPhase is invoked each time a phase completes, before the next
	// step starts.
	OnPhase func(model.Phase)
}

func NewRunner(client transport.Client, sup *supervisor.Manager, target model.Target, opts Options, logger *zap.Logger) *Runner {
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ReadyDeadline == 0 {
		opts.ReadyDeadline = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: client, sup: sup, target: target, opts: opts, logger: logger}
}

// Steps returns the ordered pipeline for this target.
func (r *Runner) Steps() []Step {
	t := r.target
	return []Step{
		{
			Name:      "sync artifact",
			Completes: model.PhaseCopied,
			Run: func(ctx context.Context) error {
				return r.client.Copy(ctx, t.ArtifactPath, t.RemoteDir, r.opts.CopyTimeout)
			},
		},
		{
			Name:      "install dependencies",
			Completes: model.PhaseDependenciesInstalled,
			Run: func(ctx context.Context) error {
				return r.runRemote(ctx, "install dependencies", r.inDir("npm ci"))
			},
		},
		{
			Name:      "build",
			Completes: model.PhaseBuilt,
			Run: func(ctx context.Context) error {
				return r.runRemote(ctx, "build", r.inDir("npm run build"))
			},
		},
		{
			Name: "stop process",
			Run: func(ctx context.Context) error {
				return r.sup.Stop(ctx, t.ProcessName)
			},
		},
		{
			Name: "remove stale definition",
			Run: func(ctx context.Context) error {
				return r.sup.Delete(ctx, t.ProcessName)
			},
		},
		{
			Name: "start process",
			Run: func(ctx context.Context) error {
				return r.sup.Start(ctx, t.ProcessName, t.RemoteDir, t.StartCommand, true)
			},
		},
		{
			Name: "persist process list",
			Run: func(ctx context.Context) error {
				return r.sup.Save(ctx)
			},
		},
		{
			Name: "register boot autostart",
			Run: func(ctx context.Context) error {
				return r.sup.EnableStartup(ctx, r.opts.RemoteUser, r.opts.RemoteHome)
			},
		},
		{
			Name:      "verify process running",
			Completes: model.PhaseProcessStarted,
			FailAs:    model.PhaseProcessStarted,
			Run: func(ctx context.Context) error {
				return r.waitRunning(ctx, t.ProcessName)
			},
		},
	}
}

// Execute runs the steps in order and returns the deepest phase
// reached. The returned error, if any, is tagged with the step that
// failed.
func (r *Runner) Execute(ctx context.Context) (model.Phase, error) {
	deepest := model.PhasePending

	for _, step := range r.Steps() {
		r.logger.Debug("running step",
			zap.String("target", r.target.Label),
			zap.String("step", step.Name),
		)

		if err := step.Run(ctx); err != nil {
			var stepErr *model.StepError
			if !errors.As(err, &stepErr) {
				err = &model.StepError{Step: step.Name, Err: err}
			}
			if step.FailAs != "" {
				return step.FailAs, err
			}
			return deepest, err
		}

		if step.Completes != "" {
			deepest = step.Completes
			if r.OnPhase != nil {
				r.OnPhase(deepest)
			}
		}
	}
	return deepest, nil
}

// waitRunning settles, then polls the supervisor until the process
// reports running or the deadline passes.
func (r *Runner) waitRunning(ctx context.Context, name string) error {
	if err := sleepCtx(ctx, r.opts.Settle); err != nil {
		return err
	}

	deadline := time.Now().Add(r.opts.ReadyDeadline)
	var last supervisor.Status
	for {
		status, err := r.sup.StatusOf(ctx, name)
		if err != nil {
			return err
		}
		if status == supervisor.StatusRunning {
			return nil
		}
		last = status

		if time.Now().After(deadline) {
			break
		}
		if err := sleepCtx(ctx, r.opts.PollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("process %q is %s, expected running after %s", name, last, r.opts.ReadyDeadline)
}

func (r *Runner) inDir(command string) string {
	return fmt.Sprintf("cd %s && %s", transport.RemotePath(r.target.RemoteDir), command)
}

func (r *Runner) runRemote(ctx context.Context, stepName, command string) error {
	res, err := r.client.Exec(ctx, command, r.opts.ExecTimeout)
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return &model.StepError{
			Step:       stepName,
			ExitStatus: res.ExitStatus,
			Output:     tail(res.Output, 2048),
		}
	}
	return nil
}

// tail keeps the end of combined output, where the failure usually is.
func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
