// Package orchestrator runs the deployment pipeline against every
// target in the registry with bounded concurrency. Failures are
// isolated at the per-target boundary: one target can never abort or
// skip a sibling's attempt.
package orchestrator

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fleetdeploy/fleetdeploy/internal/config"
	"github.com/fleetdeploy/fleetdeploy/internal/health"
	"github.com/fleetdeploy/fleetdeploy/internal/metrics"
	"github.com/fleetdeploy/fleetdeploy/internal/script"
	"github.com/fleetdeploy/fleetdeploy/internal/secrets"
	"github.com/fleetdeploy/fleetdeploy/internal/supervisor"
	"github.com/fleetdeploy/fleetdeploy/internal/transport"
	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

// EventSink receives results as they happen. Implemented by the NATS
// publisher; nil disables event publishing.
type EventSink interface {
	TargetDeployed(result model.DeploymentResult)
	RunCompleted(summary model.RunSummary)
}

// LivenessProber is the post-deployment health check contract.
type LivenessProber interface {
	Probe(ctx context.Context, host string, port int) error
}

// Orchestrator owns one run at a time over an immutable registry.
type Orchestrator struct {
	cfg    *config.Config
	dialer transport.Dialer
	store  secrets.Store
	logger *zap.Logger

	// Checker defaults to an HTTP liveness probe with the configured
	// settle and health timeouts.
	Checker LivenessProber

	// Journal, when set, persists every run summary.
	Journal *Journal

	// Events, when set, receives per-target and per-run notifications.
	Events EventSink
}

func New(cfg *config.Config, dialer transport.Dialer, store secrets.Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:     cfg,
		dialer:  dialer,
		store:   store,
		logger:  logger,
		Checker: health.NewChecker(cfg.Timeouts.Settle, cfg.Timeouts.Health),
	}
}

// Run deploys all targets and returns the aggregated summary. Every
// target gets exactly one attempt; results keep registry order. The
// only error returned is a journal write failure; per-target failures
// live in the summary.
func (o *Orchestrator) Run(ctx context.Context) (model.RunSummary, error) {
	runID := uuid.NewString()
	started := time.Now()

	if o.cfg.Timeouts.Run > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeouts.Run)
		defer cancel()
	}

	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "deploy.run")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.targets", len(o.cfg.Targets)),
		attribute.Int("run.concurrency", o.cfg.Concurrency),
	)
	defer span.End()

	if metrics.RunsTotal != nil {
		metrics.RunsTotal.Inc()
	}
	o.logger.Info("starting deployment run",
		zap.String("run_id", runID),
		zap.Int("targets", len(o.cfg.Targets)),
		zap.Int("concurrency", o.cfg.Concurrency),
	)

	n := len(o.cfg.Targets)
	bus := newResultBus(n)
	sem := semaphore.NewWeighted(int64(o.cfg.Concurrency))
	var wg sync.WaitGroup

	for i, target := range o.cfg.Targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Run cancelled or timed out before this target started.
			bus.publish(i, cancelledResult(target))
			continue
		}
		wg.Add(1)
		go func(i int, target model.Target) {
			defer wg.Done()
			defer sem.Release(1)

			result := o.deployTarget(ctx, target)
			bus.publish(i, result)
			if o.Events != nil {
				o.Events.TargetDeployed(result)
			}
		}(i, target)
	}
	wg.Wait()

	summary := model.Summarize(runID, started, time.Now(), bus.collect(n))
	span.SetAttributes(attribute.String("run.outcome", string(summary.Overall)))
	o.logger.Info("deployment run finished",
		zap.String("run_id", runID),
		zap.String("outcome", string(summary.Overall)),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)

	if o.Events != nil {
		o.Events.RunCompleted(summary)
	}
	if o.Journal != nil {
		if err := o.Journal.SaveRun(summary); err != nil {
			return summary, fmt.Errorf("failed to persist run: %w", err)
		}
	}
	return summary, nil
}

// deployTarget runs one target's full pipeline. All errors, panics
// included, are converted into a FAILURE result here and never
// propagate to sibling workers.
func (o *Orchestrator) deployTarget(ctx context.Context, target model.Target) (result model.DeploymentResult) {
	start := time.Now()
	machine := newPhaseMachine()
	log := o.logger.With(zap.String("target", target.Label))

	defer func() {
		if r := recover(); r != nil {
			log.Error("target pipeline panicked", zap.Any("panic", r))
			result = o.failure(target, machine.current(), fmt.Errorf("panic: %v", r), start)
		}
	}()

	if metrics.TargetsActive != nil {
		metrics.TargetsActive.WithLabelValues(target.Label).Inc()
		defer metrics.TargetsActive.WithLabelValues(target.Label).Dec()
	}

	cred, err := o.store.Resolve(target.CredentialRef)
	if err != nil {
		return o.failure(target, machine.current(), &model.TransportError{Op: "resolve credential", Err: err}, start)
	}

	client, err := o.dialer.Dial(ctx, target, cred)
	if err != nil {
		return o.failure(target, machine.current(), err, start)
	}
	defer client.Close()

	sup := supervisor.New(client, o.cfg.Timeouts.Exec)
	runner := script.NewRunner(client, sup, target, script.Options{
		CopyTimeout: o.cfg.Timeouts.Copy,
		ExecTimeout: o.cfg.Timeouts.Exec,
		Settle:      o.cfg.Timeouts.Settle,
		RemoteUser:  cred.User,
		RemoteHome:  homeDir(cred.User),
	}, log)
	runner.OnPhase = func(phase model.Phase) {
		if err := machine.advance(ctx, phase); err != nil {
			log.Warn("illegal phase transition", zap.String("phase", string(phase)), zap.Error(err))
		}
		if metrics.PhaseDuration != nil {
			metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
		}
		log.Info("phase reached", zap.String("phase", string(phase)))
	}

	phase, err := runner.Execute(ctx)
	if err != nil {
		// The runner's phase is authoritative: the verification step
		// reports its own failure as PROCESS_STARTED.
		return o.failure(target, phase, err, start)
	}

	if err := o.Checker.Probe(ctx, probeHost(target, cred), target.ServicePort); err != nil {
		// The process stays running; liveness failure is reported, not
		// rolled back.
		return o.failure(target, model.PhaseHealthChecked, err, start)
	}
	if err := machine.advance(ctx, model.PhaseHealthChecked); err != nil {
		log.Warn("illegal phase transition", zap.Error(err))
	}

	result = model.DeploymentResult{
		TargetLabel: target.Label,
		Phase:       model.PhaseHealthChecked,
		Outcome:     model.OutcomeSuccess,
		Duration:    time.Since(start),
	}
	if metrics.DeploysTotal != nil {
		metrics.DeploysTotal.WithLabelValues(target.Label, string(result.Outcome)).Inc()
	}
	log.Info("target deployed", zap.Duration("duration", result.Duration))
	return result
}

func (o *Orchestrator) failure(target model.Target, phase model.Phase, err error, start time.Time) model.DeploymentResult {
	kind := model.Classify(err)
	result := model.DeploymentResult{
		TargetLabel: target.Label,
		Phase:       phase,
		Outcome:     model.OutcomeFailure,
		ErrorKind:   kind,
		ErrorDetail: err.Error(),
		Duration:    time.Since(start),
	}
	if metrics.DeploysTotal != nil {
		metrics.DeploysTotal.WithLabelValues(target.Label, string(result.Outcome)).Inc()
		metrics.DeploysFailed.WithLabelValues(target.Label, string(kind)).Inc()
	}
	o.logger.Warn("target deployment failed",
		zap.String("target", target.Label),
		zap.String("phase", string(phase)),
		zap.String("error_kind", string(kind)),
		zap.Error(err),
	)
	return result
}

func cancelledResult(target model.Target) model.DeploymentResult {
	return model.DeploymentResult{
		TargetLabel: target.Label,
		Phase:       model.PhasePending,
		Outcome:     model.OutcomeFailure,
		ErrorKind:   model.ErrCancelledRun,
		ErrorDetail: model.ErrCancelled.Error(),
	}
}

// probeHost picks the host the liveness probe hits and strips any ssh
// port a credential override may carry.
func probeHost(target model.Target, cred secrets.Credential) string {
	host := target.Host
	if cred.Host != "" {
		host = cred.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func homeDir(user string) string {
	if user == "" {
		return ""
	}
	if user == "root" {
		return "/root"
	}
	return "/home/" + user
}
