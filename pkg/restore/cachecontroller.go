package restore

import (
	"sync"

	"github.com/cuemby/gridrestore/pkg/types"
	"github.com/rs/zerolog"
)

// CacheConfigStore represents the cache-configuration store (out of scope
// per §1): the engine only needs to read back the configs belonging to a
// set of groups at Prepare time and ship them to whichever node runs
// CacheStart.
type CacheConfigStore interface {
	ConfigsForGroups(groups []string) ([]*types.CacheConfig, error)
}

// StubCacheConfigStore is a minimal in-memory CacheConfigStore, useful
// wherever the real config store hasn't been wired in yet (tests, local
// single-node runs).
type StubCacheConfigStore struct {
	mu      sync.Mutex
	configs []*types.CacheConfig
}

// NewStubCacheConfigStore creates a StubCacheConfigStore seeded with cfgs.
func NewStubCacheConfigStore(cfgs ...*types.CacheConfig) *StubCacheConfigStore {
	return &StubCacheConfigStore{configs: cfgs}
}

// ConfigsForGroups returns every stored config whose GroupID is in groups,
// or every config if groups is empty (meaning "all groups").
func (s *StubCacheConfigStore) ConfigsForGroups(groups []string) ([]*types.CacheConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(groups) == 0 {
		out := make([]*types.CacheConfig, len(s.configs))
		copy(out, s.configs)
		return out, nil
	}
	want := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		want[g] = struct{}{}
	}
	var out []*types.CacheConfig
	for _, cfg := range s.configs {
		if _, ok := want[cfg.GroupID]; ok {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// SnapshotGuard represents the snapshot-creation subsystem (out of scope
// per §1): Start must fail fast if a creation snapshot operation is
// currently in flight cluster-wide, rather than race a restore against one.
type SnapshotGuard interface {
	SnapshotCreationInFlight() (bool, error)
}

// StubSnapshotGuard is the only production implementation shipped here: it
// always reports no snapshot creation in flight, since the real creation
// subsystem lives outside this engine.
type StubSnapshotGuard struct{}

// NewStubSnapshotGuard creates a StubSnapshotGuard.
func NewStubSnapshotGuard() StubSnapshotGuard { return StubSnapshotGuard{} }

// SnapshotCreationInFlight always reports false.
func (StubSnapshotGuard) SnapshotCreationInFlight() (bool, error) { return false, nil }

// CacheGroupController represents the cache-layer collaborator responsible
// for actually starting and stopping a cache group process once its
// directories are staged. It is out of scope for this engine (spec §1) —
// the engine only needs to call it at the right points in the phase
// sequence and observe whether it succeeded.
type CacheGroupController interface {
	// Start brings up the named cache group against the given final
	// directories, one per configured replica/shard.
	Start(group string, dirs []string) error
	// Stop tears the named cache group down, releasing any file handles
	// so Rollback/CacheStop can remove its directories.
	Stop(group string) error
}

// StubCacheGroupController is the only production implementation shipped
// here: it records every call it receives instead of driving a real cache
// process, since the real collaborator lives outside this engine.
type StubCacheGroupController struct {
	mu      sync.Mutex
	log     zerolog.Logger
	started map[string][]string
	stopped map[string]int
}

// NewStubCacheGroupController creates a StubCacheGroupController.
func NewStubCacheGroupController(log zerolog.Logger) *StubCacheGroupController {
	return &StubCacheGroupController{
		log:     log.With().Str("component", "cachecontroller").Logger(),
		started: make(map[string][]string),
		stopped: make(map[string]int),
	}
}

// Start records the group as started and logs it; it never fails.
func (s *StubCacheGroupController) Start(group string, dirs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[group] = dirs
	s.log.Info().Str("group", group).Strs("dirs", dirs).Msg("cache group start requested")
	return nil
}

// Stop records the group as stopped and logs it; it never fails.
func (s *StubCacheGroupController) Stop(group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped[group]++
	s.log.Info().Str("group", group).Msg("cache group stop requested")
	return nil
}

// Started returns the directories the stub was last asked to start group
// with, for test assertions.
func (s *StubCacheGroupController) Started(group string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirs, ok := s.started[group]
	return dirs, ok
}

// StopCount returns how many times Stop was called for group, for test
// assertions.
func (s *StubCacheGroupController) StopCount(group string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped[group]
}
