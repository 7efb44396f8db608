package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func success(label string) DeploymentResult {
	return DeploymentResult{TargetLabel: label, Phase: PhaseHealthChecked, Outcome: OutcomeSuccess}
}

func failure(label string, phase Phase) DeploymentResult {
	return DeploymentResult{TargetLabel: label, Phase: phase, Outcome: OutcomeFailure}
}

func TestSummarizeAllSucceeded(t *testing.T) {
	s := Summarize("r1", time.Now(), time.Now(), []DeploymentResult{success("vm1"), success("vm2")})
	assert.Equal(t, AllSucceeded, s.Overall)
}

func TestSummarizePartialFailure(t *testing.T) {
	s := Summarize("r1", time.Now(), time.Now(), []DeploymentResult{
		failure("vm1", PhasePending),
		success("vm2"),
	})
	assert.Equal(t, PartialFailure, s.Overall)
}

func TestSummarizeAllFailed(t *testing.T) {
	s := Summarize("r1", time.Now(), time.Now(), []DeploymentResult{
		failure("vm1", PhaseCopied),
		failure("vm2", PhaseBuilt),
	})
	assert.Equal(t, AllFailed, s.Overall)
}

func TestSummarizeEmptyRegistryIsTrivialSuccess(t *testing.T) {
	s := Summarize("r1", time.Now(), time.Now(), nil)
	assert.Equal(t, AllSucceeded, s.Overall)
	assert.Empty(t, s.Results)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"transport", &TransportError{Op: "copy", Err: errors.New("connection refused")}, ErrTransport},
		{"step", &StepError{Step: "build", ExitStatus: 2}, ErrScriptStep},
		{"timeout beats step", &StepError{Step: "build", Err: &TimeoutError{Op: "exec", Timeout: time.Second}}, ErrTimeout},
		{"health", &HealthCheckError{Addr: "vm1:4200", Err: errors.New("no response")}, ErrHealthCheck},
		{"cancelled", ErrCancelled, ErrCancelledRun},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
