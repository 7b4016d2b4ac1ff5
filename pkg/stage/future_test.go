package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFutureResolvesOnComplete(t *testing.T) {
	f := NewPartitionRestoreFuture("G", 0)
	assert.False(t, f.Done())

	go f.Complete(nil)

	err := f.Wait(context.Background())
	assert.NoError(t, err)
	assert.True(t, f.Done())
}

func TestFutureCompleteOnlyFiresOnce(t *testing.T) {
	f := NewPartitionRestoreFuture("G", 0)
	f.Complete(errors.New("first"))
	f.Complete(errors.New("second"))

	err := f.Wait(context.Background())
	assert.EqualError(t, err, "first")
}

func TestFutureWaitRespectsContext(t *testing.T) {
	f := NewPartitionRestoreFuture("G", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
