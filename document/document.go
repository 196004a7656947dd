// Package document implements the replicated document: a map of field
// path to LWW register plus one vector clock, with local mutation and
// merge operations.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"replidoc/register"
	"replidoc/stamp"
	"replidoc/vclock"
)

// ErrPoisoned is returned by every mutating method once the document
// has observed an InvariantViolation — two writes presenting the same
// stamp with different content — on any of its fields. A poisoned
// document refuses further Set/SetMany/Delete/ApplyField calls rather
// than risk silently accepting more conflicting state; the host must
// discard it and reload from persistence or a trusted peer.
var ErrPoisoned = errors.New("document: poisoned by an invariant violation, refusing further mutation")

// ID identifies a document. Opaque string, scoped by the host.
type ID string

// Path is a flat, opaque field key. Hierarchical interpretation, if
// any, is the host's concern.
type Path string

// Watcher is notified after a successful local mutation. Used by the
// sync coordinator to learn about writes without the document package
// depending on coordinator (keeps the dependency edge one-directional).
type Watcher func(p Path)

// Document composes many registers and one vector clock.
type Document struct {
	mu       sync.Mutex
	id       ID
	fields   map[Path]*register.Register
	clock    *vclock.Clock
	ticker   *stamp.Ticker
	poisoned bool

	watchersMu sync.RWMutex
	watchers   []Watcher
}

// New creates an empty document owned locally by replica.
func New(id ID, replica stamp.ReplicaID) *Document {
	d := &Document{
		id:     id,
		fields: make(map[Path]*register.Register),
		clock:  vclock.New(),
	}
	d.ticker = stamp.NewTicker(replica, d.clock)
	return d
}

// ID returns the document's identifier.
func (d *Document) ID() ID { return d.id }

// Clock exposes the document's vector clock (e.g. for checking that
// it covers every accepted stamp).
func (d *Document) Clock() *vclock.Clock { return d.clock }

// Poisoned reports whether d has observed an InvariantViolation and
// is refusing further mutation.
func (d *Document) Poisoned() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.poisoned
}

// markPoisonedLocked flags d as poisoned if err is a register
// equal-stamp mismatch. Callers must hold d.mu.
func (d *Document) markPoisonedLocked(err error) {
	var mismatch *register.ErrEqualStampMismatch
	if errors.As(err, &mismatch) {
		d.poisoned = true
	}
}

// Watch registers w to be called after every successful local Set or
// Delete. Not called for remote Merge/Apply — those are the
// coordinator's own responsibility to broadcast.
func (d *Document) Watch(w Watcher) {
	d.watchersMu.Lock()
	defer d.watchersMu.Unlock()
	d.watchers = append(d.watchers, w)
}

func (d *Document) notify(p Path) {
	d.watchersMu.RLock()
	ws := append([]Watcher(nil), d.watchers...)
	d.watchersMu.RUnlock()
	for _, w := range ws {
		w(p)
	}
}

// Set assigns value at path, stamping it with a fresh local stamp.
// Local writes are constructed with stamps strictly greater than
// anything previously observed by this replica, so they always win
// LWW resolution against prior local state.
func (d *Document) Set(path Path, value json.RawMessage) error {
	return d.SetMany(map[Path]json.RawMessage{path: value})
}

// SetMany assigns several fields in one logical call. Each field
// receives its own stamp — the clock is ticked once per field, never
// once for the whole batch.
func (d *Document) SetMany(values map[Path]json.RawMessage) error {
	d.mu.Lock()
	if d.poisoned {
		d.mu.Unlock()
		return fmt.Errorf("document %s: %w", d.id, ErrPoisoned)
	}

	for path, value := range values {
		s := d.ticker.Next()
		r := d.fields[path]
		if r == nil {
			r = &register.Register{}
			d.fields[path] = r
		}
		if _, err := r.Assign(value, false, s, d.ticker.Replica()); err != nil {
			d.markPoisonedLocked(err)
			d.mu.Unlock()
			return fmt.Errorf("document %s: set %s: %w", d.id, path, err)
		}
	}
	d.mu.Unlock()

	for path := range values {
		d.notify(path)
	}
	return nil
}

// Get returns path's visible value. Tombstones and never-set fields
// both report ok=false.
func (d *Document) Get(path Path) (json.RawMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.fields[path]
	if !ok {
		return nil, false
	}
	return r.Get()
}

// FieldAt returns a snapshot of the register at path, if any. Used by
// the sync coordinator to build a single-field delta after a local
// write notification, without copying every field in the document.
func (d *Document) FieldAt(path Path) (*register.Register, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.fields[path]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Delete tombstones path with a fresh local stamp. The register is
// retained, not removed, so a later out-of-order remote write can
// still resurrect it under LWW.
func (d *Document) Delete(path Path) error {
	d.mu.Lock()
	if d.poisoned {
		d.mu.Unlock()
		return fmt.Errorf("document %s: %w", d.id, ErrPoisoned)
	}

	s := d.ticker.Next()
	r := d.fields[path]
	if r == nil {
		r = &register.Register{}
		d.fields[path] = r
	}
	_, err := r.Assign(nil, true, s, d.ticker.Replica())
	if err != nil {
		d.markPoisonedLocked(err)
	}
	d.mu.Unlock()

	if err != nil {
		return fmt.Errorf("document %s: delete %s: %w", d.id, path, err)
	}
	d.notify(path)
	return nil
}

// ApplyField offers one remote (value, stamp, origin) triple to the
// register at path under the LWW rule, and observes the stamp's
// clock coordinate so the document's vector clock never falls behind
// a stamp it has accepted. Used directly by delta.Apply and by Merge.
func (d *Document) ApplyField(path Path, value json.RawMessage, tombstone bool, s stamp.Stamp, origin stamp.ReplicaID) error {
	d.mu.Lock()
	if d.poisoned {
		d.mu.Unlock()
		return fmt.Errorf("document %s: %w", d.id, ErrPoisoned)
	}

	r := d.fields[path]
	if r == nil {
		r = &register.Register{}
		d.fields[path] = r
	}
	_, err := r.Assign(value, tombstone, s, origin)
	if err != nil {
		d.markPoisonedLocked(err)
	}
	d.clock.Observe(s.Replica, s.Clock)
	d.mu.Unlock()

	if err != nil {
		return fmt.Errorf("document %s: apply %s: %w", d.id, path, err)
	}
	return nil
}

// Merge folds another document's fields and clock into d: assign
// every field of other into the corresponding local register, then
// merge clocks.
func (d *Document) Merge(other *Document) error {
	other.mu.Lock()
	fields := make(map[Path]*register.Register, len(other.fields))
	for p, r := range other.fields {
		fields[p] = r.Clone()
	}
	other.mu.Unlock()

	for path, r := range fields {
		if err := d.ApplyField(path, r.Value, r.Tombstone, r.Stamp, r.Origin); err != nil {
			return err
		}
	}
	d.clock.Merge(other.clock)
	return nil
}

// Fields returns a snapshot of all field paths currently tracked
// (including tombstoned ones), for iteration by delta.Compute and
// coordinator.SnapshotFor.
func (d *Document) Fields() map[Path]*register.Register {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Path]*register.Register, len(d.fields))
	for p, r := range d.fields {
		out[p] = r.Clone()
	}
	return out
}

// FieldSnapshot is the serialized form of one register: value or
// tombstone, plus the stamp and origin that produced it.
type FieldSnapshot struct {
	Value        json.RawMessage `json:"value,omitempty"`
	Tombstone    bool            `json:"tombstone,omitempty"`
	StampClock   uint64          `json:"stamp_clock"`
	StampReplica stamp.ReplicaID `json:"stamp_replica"`
	Origin       stamp.ReplicaID `json:"origin"`
}

// Snapshot is the serialized form of a whole document: id, fields,
// and vector clock. It is what persist.Adapter implementations store
// and load.
type Snapshot struct {
	ID     ID                         `json:"id"`
	Fields map[Path]FieldSnapshot     `json:"fields"`
	Clock  map[stamp.ReplicaID]uint64 `json:"clock"`
}

// Snapshot captures d's current state for persistence or transfer.
func (d *Document) Snapshot() Snapshot {
	d.mu.Lock()
	fields := make(map[Path]FieldSnapshot, len(d.fields))
	for p, r := range d.fields {
		fields[p] = FieldSnapshot{
			Value:        r.Value,
			Tombstone:    r.Tombstone,
			StampClock:   r.Stamp.Clock,
			StampReplica: r.Stamp.Replica,
			Origin:       r.Origin,
		}
	}
	d.mu.Unlock()

	return Snapshot{ID: d.id, Fields: fields, Clock: d.clock.Snapshot()}
}

// Load replaces d's contents with a previously captured snapshot, as
// happens when a coordinator restores a document from persistence on
// first access.
func (d *Document) Load(snap Snapshot) {
	d.mu.Lock()
	d.id = snap.ID
	d.fields = make(map[Path]*register.Register, len(snap.Fields))
	for p, fs := range snap.Fields {
		r := &register.Register{}
		_, _ = r.Assign(fs.Value, fs.Tombstone, stamp.Stamp{Clock: fs.StampClock, Replica: fs.StampReplica}, fs.Origin)
		d.fields[p] = r
	}
	d.mu.Unlock()
	d.clock.Load(snap.Clock)
}

// FromSnapshot builds a new Document owned locally by replica and
// immediately restores snap into it.
func FromSnapshot(snap Snapshot, replica stamp.ReplicaID) *Document {
	d := New(snap.ID, replica)
	d.Load(snap)
	return d
}
