package otaextract

import (
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/otaxtract/payload-extract/manifest"
)

// Outcome is one partition's extraction result, reported independently of
// every other partition's.
type Outcome struct {
	Partition string
	Err       error
}

// SchedulerOptions configures one extraction run.
type SchedulerOptions struct {
	OutDir   string
	OldDir   string // "" disables differential mode
	NoVerify bool
	Threads  int
	Images   []string // substring filter; empty means "all partitions"
	Progress *ProgressBus
	Cancel   *CancelFlag
}

// SelectPartitions returns the partitions whose name substring-matches any
// entry in images (case-sensitive), preserving manifest order. An empty
// images list selects everything.
func SelectPartitions(m *manifest.DeltaArchiveManifest, images []string) []*manifest.PartitionUpdate {
	if len(images) == 0 {
		return m.Partitions
	}
	var out []*manifest.PartitionUpdate
	for _, p := range m.Partitions {
		for _, want := range images {
			if strings.Contains(p.PartitionName, want) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Run drives a bounded worker pool (panjf2000/ants) over the selected
// partitions. Partitions run in arbitrary order with no cross-partition
// ordering guarantee; each worker runs its own partition's operations
// strictly in order via PartitionPlan.Apply.
//
// The returned []Outcome always has one entry per selected partition, even
// when some failed — a partition's own extraction/verification error never
// aborts its siblings. The returned error is reserved for scheduler
// infrastructure failure (e.g. the pool itself could not accept work); an
// errgroup.Group carries that distinct, rarer failure class so callers can
// tell "my disk extraction logic has a bug in partition X" apart from "the
// worker pool itself broke".
func Run(payload *Payload, opts SchedulerOptions) ([]Outcome, error) {
	selected := SelectPartitions(payload.Manifest, opts.Images)
	if len(selected) == 0 {
		return nil, nil
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}
	if threads > len(selected) {
		threads = len(selected)
	}

	pool, err := ants.NewPool(threads)
	if err != nil {
		return nil, NewError(KindIoWrite, "creating worker pool", err)
	}
	defer pool.Release()

	var (
		mu       sync.Mutex
		outcomes = make([]Outcome, len(selected))
	)

	var eg errgroup.Group
	for i, pu := range selected {
		i, pu := i, pu
		var wg sync.WaitGroup
		wg.Add(1)
		eg.Go(func() error {
			err := pool.Submit(func() {
				defer wg.Done()
				plan := &PartitionPlan{
					Payload:      payload,
					Partition:    pu,
					OutDir:       opts.OutDir,
					OldDir:       opts.OldDir,
					NoVerify:     opts.NoVerify,
					Cancel:       opts.Cancel,
					Progress:     opts.Progress,
					PartitionIdx: i,
				}
				result := Outcome{Partition: pu.PartitionName, Err: plan.Apply()}
				mu.Lock()
				outcomes[i] = result
				mu.Unlock()
			})
			if err != nil {
				wg.Done()
				return NewError(KindIoWrite, "submitting partition to worker pool", err)
			}
			wg.Wait()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// WorstExitCode maps a batch of outcomes (plus a possible pre-scheduling
// fatal error) to the process exit code table.
func WorstExitCode(schedulerErr error, outcomes []Outcome) int {
	if schedulerErr != nil {
		return exitCodeFor(schedulerErr, 3)
	}
	worst := 0
	for _, o := range outcomes {
		if o.Err == nil {
			continue
		}
		code := exitCodeFor(o.Err, 3)
		if code > worst {
			worst = code
		}
	}
	return worst
}

func exitCodeFor(err error, fallback int) int {
	switch {
	case IsKind(err, KindCancelled):
		return 5
	case IsKind(err, KindOutputHashMismatch), IsKind(err, KindSourceHashMismatch):
		return 4
	case IsKind(err, KindInvalidMagic), IsKind(err, KindUnsupportedVersion), IsKind(err, KindManifestTooLarge), IsKind(err, KindManifestDecode), IsKind(err, KindNotAZip), IsKind(err, KindPayloadNotInZip):
		return 2
	case IsKind(err, KindInputNotFound), IsKind(err, KindInvalidArgument):
		return 1
	default:
		return fallback
	}
}
