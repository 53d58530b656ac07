package otaextract

import (
	"sync"
	"sync/atomic"
)

// PartitionProgress is one partition's live progress snapshot.
type PartitionProgress struct {
	Index        int
	Name         string
	TotalOps     int
	CompletedOps int
}

// ProgressSink receives a callback after every successfully completed
// operation, in addition to (not instead of) the pollable registry. The
// CLI's progress-bar rendering is the canonical sink; it is an external
// collaborator, so Sink is optional and nil by default.
type ProgressSink func(PartitionProgress)

// ProgressBus is the process-wide registry of per-partition progress,
// guarded by a single narrow-scope mutex. Workers call StartPartition once
// and CompleteOp after each operation; readers call Snapshot.
type ProgressBus struct {
	mu    sync.Mutex
	table map[int]*PartitionProgress
	sink  ProgressSink
}

// NewProgressBus builds an empty bus. sink may be nil.
func NewProgressBus(sink ProgressSink) *ProgressBus {
	return &ProgressBus{table: make(map[int]*PartitionProgress), sink: sink}
}

func (b *ProgressBus) StartPartition(idx int, name string, totalOps int) {
	b.mu.Lock()
	b.table[idx] = &PartitionProgress{Index: idx, Name: name, TotalOps: totalOps}
	b.mu.Unlock()
}

func (b *ProgressBus) CompleteOp(idx int) {
	b.mu.Lock()
	p, ok := b.table[idx]
	if ok {
		p.CompletedOps++
	}
	var snapshot PartitionProgress
	if ok {
		snapshot = *p
	}
	b.mu.Unlock()

	if ok && b.sink != nil {
		b.sink(snapshot)
	}
}

// Snapshot returns a copy of every partition's current progress.
func (b *ProgressBus) Snapshot() []PartitionProgress {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PartitionProgress, 0, len(b.table))
	for _, p := range b.table {
		out = append(out, *p)
	}
	return out
}

// CancelFlag is the single shared cooperative-cancellation flag workers
// check between operations. It intentionally has no
// other state: cancellation is binary and global to one extraction run.
type CancelFlag struct {
	flag atomic.Bool
}

func (c *CancelFlag) Cancel()         { c.flag.Store(true) }
func (c *CancelFlag) Cancelled() bool { return c.flag.Load() }
