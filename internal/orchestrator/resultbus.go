package orchestrator

import (
	"sort"

	"github.com/fleetdeploy/fleetdeploy/pkg/model"
)

type indexedResult struct {
	index  int
	result model.DeploymentResult
}

// resultBus collects per-target results from the workers. Each worker
// publishes exactly once; the buffered channel is the only shared
// state between them.
type resultBus struct {
	ch chan indexedResult
}

func newResultBus(n int) *resultBus {
	return &resultBus{ch: make(chan indexedResult, n)}
}

func (rb *resultBus) publish(index int, result model.DeploymentResult) {
	rb.ch <- indexedResult{index: index, result: result}
}

// collect drains n results and restores the original registry order,
// regardless of completion order.
func (rb *resultBus) collect(n int) []model.DeploymentResult {
	indexed := make([]indexedResult, 0, n)
	for i := 0; i < n; i++ {
		indexed = append(indexed, <-rb.ch)
	}
	sort.Slice(indexed, func(i, j int) bool { return indexed[i].index < indexed[j].index })

	results := make([]model.DeploymentResult, n)
	for i, ir := range indexed {
		results[i] = ir.result
	}
	return results
}
