package replidocclient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"replidoc/stamp"
)

// localClock is a JSON-file-backed monotonic counter, one coordinate
// per replica. A CLI invocation is a fresh process every time, so a
// wall-clock timestamp looks monotonic within one run but collides
// with itself across two invocations in the same second; persisting
// the last-issued clock value lets every invocation pick up where the
// last one left off and hand out a genuinely increasing Lamport
// stamp.
type localClock struct {
	mu     sync.Mutex
	path   string
	memory map[stamp.ReplicaID]uint64
}

// newLocalClock creates a clock backed by path. An empty path keeps
// the counter in memory only, for callers (or tests) that don't want
// a state file on disk; it then restarts at zero every process.
func newLocalClock(path string) *localClock {
	return &localClock{path: path, memory: make(map[stamp.ReplicaID]uint64)}
}

type clockState struct {
	Clocks map[stamp.ReplicaID]uint64 `json:"clocks"`
}

// next returns the next clock coordinate for replica, persisting the
// bump before returning so a concurrent or later invocation never
// reuses it.
func (l *localClock) next(replica stamp.ReplicaID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.path == "" {
		l.memory[replica]++
		return l.memory[replica], nil
	}

	state, err := l.load()
	if err != nil {
		return 0, err
	}
	state.Clocks[replica]++
	c := state.Clocks[replica]
	if err := l.save(state); err != nil {
		return 0, err
	}
	return c, nil
}

func (l *localClock) load() (*clockState, error) {
	state := &clockState{Clocks: make(map[stamp.ReplicaID]uint64)}

	data, err := os.ReadFile(l.path)
	switch {
	case os.IsNotExist(err):
		return state, nil
	case err != nil:
		return nil, fmt.Errorf("replidocclient: read clock state: %w", err)
	case len(data) == 0:
		return state, nil
	}

	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("replidocclient: parse clock state: %w", err)
	}
	if state.Clocks == nil {
		state.Clocks = make(map[stamp.ReplicaID]uint64)
	}
	return state, nil
}

func (l *localClock) save(state *clockState) error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("replidocclient: create clock state dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0o644)
}
