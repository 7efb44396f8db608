package model

import "time"

// Phase marks how deep into the deployment pipeline a target got.
type Phase string

const (
	PhasePending               Phase = "PENDING"
	PhaseCopied                Phase = "COPIED"
	PhaseDependenciesInstalled Phase = "DEPENDENCIES_INSTALLED"
	PhaseBuilt                 Phase = "BUILT"
	PhaseProcessStarted        Phase = "PROCESS_STARTED"
	PhaseHealthChecked         Phase = "HEALTH_CHECKED"
)

// Outcome is the per-target verdict.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// OverallOutcome is the whole-run verdict.
type OverallOutcome string

const (
	AllSucceeded   OverallOutcome = "ALL_SUCCEEDED"
	PartialFailure OverallOutcome = "PARTIAL_FAILURE"
	AllFailed      OverallOutcome = "ALL_FAILED"
)

// DeploymentResult records one target's attempt. Written exactly once
// by the worker that handled the target, immutable afterwards.
type DeploymentResult struct {
	TargetLabel string        `json:"target_label"`
	Phase       Phase         `json:"phase_reached"`
	Outcome     Outcome       `json:"outcome"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// RunSummary aggregates a full run. Results keep the original registry
// order regardless of completion order.
type RunSummary struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Results    []DeploymentResult `json:"results"`
	Overall    OverallOutcome     `json:"overall_outcome"`
}

// Summarize derives the run verdict from the per-target results. An
// empty result set is a trivial success.
func Summarize(runID string, started, finished time.Time, results []DeploymentResult) RunSummary {
	succeeded := 0
	for _, r := range results {
		if r.Outcome == OutcomeSuccess {
			succeeded++
		}
	}

	overall := PartialFailure
	switch {
	case succeeded == len(results):
		overall = AllSucceeded
	case succeeded == 0:
		overall = AllFailed
	}

	return RunSummary{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: finished,
		Results:    results,
		Overall:    overall,
	}
}
