package index

import (
	"time"

	"go.uber.org/zap"
)

// Progress accumulates per-tree counters for one optimizer run. It is an
// explicit value owned by the maintainer and reset between trees; nothing
// about it survives a run through hidden state.
type Progress struct {
	TreeName     string
	NodesLabeled int64
	ClosureRows  int64
	MaxDistance  int
	started      time.Time
}

// NewProgress returns a zeroed accumulator.
func NewProgress() *Progress {
	return &Progress{}
}

// Reset clears all counters and starts the clock for the named tree.
func (p *Progress) Reset(treeName string) {
	*p = Progress{TreeName: treeName, started: time.Now()}
}

// SetNodesLabeled records how many nodes received interval bounds.
func (p *Progress) SetNodesLabeled(n int64) {
	p.NodesLabeled = n
}

// AddClosureLayer records one materialized closure layer. The terminating
// zero-row layer contributes nothing but still advances nothing, so it is
// safe to report every layer.
func (p *Progress) AddClosureLayer(distance int, rows int64) {
	p.ClosureRows += rows
	if rows > 0 && distance > p.MaxDistance {
		p.MaxDistance = distance
	}
}

// Report emits the accumulated counters for the current tree.
func (p *Progress) Report(log *zap.Logger) {
	log.Info("Tree indexes rebuilt",
		zap.String("tree", p.TreeName),
		zap.Int64("nodes_labeled", p.NodesLabeled),
		zap.Int64("closure_rows", p.ClosureRows),
		zap.Int("max_distance", p.MaxDistance),
		zap.Duration("elapsed", time.Since(p.started)))
}
