package restore

import (
	"errors"
	"testing"

	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cacheConfigFixture = types.CacheConfig{CacheID: "c1", GroupID: "G", Name: "cache-1"}

func TestContextErrorLatchFirstWins(t *testing.T) {
	rc := NewContext("req-1", "nightly", "node-a", []string{"node-a"}, nil, 0)

	first := NewError(KindIO, "first failure", nil)
	second := NewError(KindApply, "second failure", nil)

	rc.SetError(first)
	rc.SetError(second)

	assert.Same(t, first, rc.Err())
	assert.True(t, rc.Failed())
}

func TestContextStopFutClosesOnFirstError(t *testing.T) {
	rc := NewContext("req-1", "nightly", "node-a", nil, nil, 0)

	select {
	case <-rc.StopFut():
		t.Fatal("stop future should not be closed before an error is set")
	default:
	}

	rc.SetError(ErrInterruptedByUser)

	select {
	case <-rc.StopFut():
	default:
		t.Fatal("stop future should close once an error is set")
	}
}

func TestContextPlanAccessors(t *testing.T) {
	rc := NewContext("req-1", "nightly", "node-a", nil, []string{"G"}, 0)

	rc.SetDirs("G", []string{"/data/G"})
	assert.Equal(t, []string{"/data/G"}, rc.Dirs("G"))

	rc.SetConfig(&cacheConfigFixture)
	cfgs := rc.Configs()
	require.Len(t, cfgs, 1)
	assert.Equal(t, cacheConfigFixture.CacheID, cfgs[0].CacheID)

	assert.True(t, rc.HasGroup("G"))
	assert.False(t, rc.HasGroup("H"))
}

func TestContextCounters(t *testing.T) {
	rc := NewContext("req-1", "nightly", "node-a", nil, nil, 0)

	rc.SetTotalPartitions(4)
	rc.AddProcessedPartitions(1)
	rc.AddProcessedPartitions(3)
	assert.Equal(t, int64(4), rc.ProcessedPartitions())
	assert.Equal(t, int64(4), rc.TotalPartitions())

	rc.SetTotalWALSegments(2)
	rc.AddProcessedWALSegments(2)
	rc.AddProcessedWALEntries(3)
	assert.Equal(t, int64(2), rc.ProcessedWALSegments())
	assert.Equal(t, int64(3), rc.ProcessedWALEntries())
}

func TestContextErrAfterSuccessIsNil(t *testing.T) {
	rc := NewContext("req-1", "nightly", "node-a", nil, nil, 0)
	assert.NoError(t, rc.Err())
	assert.False(t, rc.Failed())
	assert.False(t, errors.Is(rc.Err(), ErrRequiredNodeLeft))
}
