package wal

import (
	"context"
	"sync"

	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/rs/zerolog"
)

// StubWALControl is the only production WALControl shipped here: it
// records every call instead of driving a real cache database's WAL, since
// that database layer lives outside this engine.
type StubWALControl struct {
	mu          sync.Mutex
	log         zerolog.Logger
	disabled    []string
	enabled     []string
	checkpoints int
}

// NewStubWALControl creates a StubWALControl.
func NewStubWALControl(log zerolog.Logger) *StubWALControl {
	return &StubWALControl{log: log.With().Str("component", "walcontrol").Logger()}
}

func (s *StubWALControl) Disable(groups []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = groups
	s.log.Info().Strs("groups", groups).Msg("WAL disable requested")
	return nil
}

func (s *StubWALControl) Enable(groups []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = groups
	s.log.Info().Strs("groups", groups).Msg("WAL enable requested")
	return nil
}

func (s *StubWALControl) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints++
	s.log.Info().Int("count", s.checkpoints).Msg("WAL checkpoint requested")
	return nil
}

// CheckpointCount returns how many times Checkpoint was called, for test
// assertions.
func (s *StubWALControl) CheckpointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints
}

// NopApply is an ApplyFunc that advances no real state, for wiring the
// engine before the cache database layer is connected.
func NopApply(entry *types.WALEntry) error { return nil }

// NopFinalize is a FinalizeFunc that closes no real counter gaps, for the
// same reason as NopApply.
func NopFinalize(group string, partitionID int) error { return nil }

// EmptySegmentSource is a segment source that reports no incremental
// segments for any snapshot, letting IncrementalApply run as a no-op until
// the real WAL reader collaborator is wired in.
func EmptySegmentSource(snapshotName string, incrementalIndex int) ([]SegmentIterator, error) {
	return nil, nil
}
