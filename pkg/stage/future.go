package stage

import (
	"context"
	"sync"
)

// PartitionRestoreFuture resolves once a single partition has either been
// copied locally or fetched from a peer into its staging location (spec §3
// data model).
type PartitionRestoreFuture struct {
	Group       string
	PartitionID int

	once sync.Once
	done chan struct{}
	err  error
}

// NewPartitionRestoreFuture creates an unresolved future for one partition.
func NewPartitionRestoreFuture(group string, partID int) *PartitionRestoreFuture {
	return &PartitionRestoreFuture{
		Group:       group,
		PartitionID: partID,
		done:        make(chan struct{}),
	}
}

// Complete resolves the future. Only the first call has any effect.
func (f *PartitionRestoreFuture) Complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *PartitionRestoreFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports whether the future has resolved without blocking.
func (f *PartitionRestoreFuture) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
