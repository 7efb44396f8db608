package orchestrator

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

// phaseMachine guards the legal order of pipeline phases for one
// target. A rejected transition indicates a pipeline bug, not a
// deployment failure.
type phaseMachine struct {
	m *fsm.FSM
}

func reachEvent(p model.Phase) string {
	return "reach_" + string(p)
}

func newPhaseMachine() *phaseMachine {
	return &phaseMachine{m: fsm.NewFSM(
		string(model.PhasePending),
		fsm.Events{
			{Name: reachEvent(model.PhaseCopied), Src: []string{string(model.PhasePending)}, Dst: string(model.PhaseCopied)},
			{Name: reachEvent(model.PhaseDependenciesInstalled), Src: []string{string(model.PhaseCopied)}, Dst: string(model.PhaseDependenciesInstalled)},
			{Name: reachEvent(model.PhaseBuilt), Src: []string{string(model.PhaseDependenciesInstalled)}, Dst: string(model.PhaseBuilt)},
			{Name: reachEvent(model.PhaseProcessStarted), Src: []string{string(model.PhaseBuilt)}, Dst: string(model.PhaseProcessStarted)},
			{Name: reachEvent(model.PhaseHealthChecked), Src: []string{string(model.PhaseProcessStarted)}, Dst: string(model.PhaseHealthChecked)},
		},
		fsm.Callbacks{},
	)}
}

func (p *phaseMachine) advance(ctx context.Context, phase model.Phase) error {
	return p.m.Event(ctx, reachEvent(phase))
}

func (p *phaseMachine) current() model.Phase {
	return model.Phase(p.m.Current())
}
