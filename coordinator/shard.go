// A consistent-hash ring, repurposed from "which node owns this key"
// to "which coordinator instance owns this document." A document's
// home keeps every connection for it on one process, so
// HandleIncomingDelta never needs cross-process locking — only the
// fanout.Adapter carries deltas between shards.
package coordinator

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"sync"

	"replidoc/document"
)

const defaultVnodes = 150

// Ring is a consistent-hash ring mapping document IDs to coordinator
// shard names.
type Ring struct {
	mu     sync.RWMutex
	vnodes int
	ring   map[uint32]string
	sorted []uint32
}

// NewRing creates an empty ring. vnodes <= 0 uses defaultVnodes.
func NewRing(vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = defaultVnodes
	}
	return &Ring{vnodes: vnodes, ring: make(map[uint32]string)}
}

// AddShard adds a coordinator shard to the ring under vnodes positions.
func (r *Ring) AddShard(shardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.vnodes; i++ {
		pos := r.hash(fmt.Sprintf("%s#%d", shardID, i))
		r.ring[pos] = shardID
	}
	r.rebuild()
}

// RemoveShard removes a coordinator shard from the ring.
func (r *Ring) RemoveShard(shardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.vnodes; i++ {
		pos := r.hash(fmt.Sprintf("%s#%d", shardID, i))
		delete(r.ring, pos)
	}
	r.rebuild()
}

// ShardFor returns the shard ID responsible for a document, or "" if
// the ring is empty.
func (r *Ring) ShardFor(id document.ID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sorted) == 0 {
		return ""
	}
	pos := r.hash(string(id))
	idx := r.search(pos)
	return r.ring[r.sorted[idx]]
}

// Shards returns the distinct shard IDs currently on the ring.
func (r *Ring) Shards() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range r.ring {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Ring) hash(s string) uint32 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint32(h[:4])
}

func (r *Ring) rebuild() {
	r.sorted = make([]uint32, 0, len(r.ring))
	for pos := range r.ring {
		r.sorted = append(r.sorted, pos)
	}
	slices.Sort(r.sorted)
}

func (r *Ring) search(pos uint32) int {
	idx := sort.Search(len(r.sorted), func(i int) bool {
		return r.sorted[i] >= pos
	})
	if idx == len(r.sorted) {
		idx = 0
	}
	return idx
}

// Shard describes one coordinator instance in a sharded deployment.
type Shard struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Alive   bool   `json:"alive"`
}

// Membership tracks the set of coordinator shards and their ring
// assignment. A single-process deployment never needs this; it exists
// for operators who split documents across multiple coordinator
// processes behind a shared fanout.Adapter.
type Membership struct {
	mu     sync.RWMutex
	shards map[string]*Shard
	ring   *Ring
}

// NewMembership seeds membership with an initial shard list.
func NewMembership(shards []Shard, vnodes int) *Membership {
	m := &Membership{shards: make(map[string]*Shard), ring: NewRing(vnodes)}
	for i := range shards {
		s := shards[i]
		s.Alive = true
		m.shards[s.ID] = &s
		m.ring.AddShard(s.ID)
	}
	return m
}

// Join adds a new shard to the cluster.
func (m *Membership) Join(s Shard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shards[s.ID]; ok {
		return fmt.Errorf("coordinator: shard %s already joined", s.ID)
	}
	s.Alive = true
	m.shards[s.ID] = &s
	m.ring.AddShard(s.ID)
	return nil
}

// Leave removes a shard from the cluster.
func (m *Membership) Leave(shardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shards[shardID]; !ok {
		return fmt.Errorf("coordinator: shard %s not joined", shardID)
	}
	delete(m.shards, shardID)
	m.ring.RemoveShard(shardID)
	return nil
}

// ShardFor returns the shard responsible for id, for routing a
// connecting client to the right coordinator process.
func (m *Membership) ShardFor(id document.ID) (*Shard, bool) {
	shardID := m.ring.ShardFor(id)
	if shardID == "" {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shards[shardID]
	return s, ok
}

// All returns a copy of every known shard.
func (m *Membership) All() []Shard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Shard, 0, len(m.shards))
	for _, s := range m.shards {
		out = append(out, *s)
	}
	return out
}
