// Package fileadapter is a persist.Adapter backed by a write-ahead
// log plus periodic snapshots, so a process restart replays only the
// writes since the last successful snapshot. One document.Snapshot is
// tracked per document id.
package fileadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"replidoc/document"
	"replidoc/persist"
	"replidoc/stamp"
)

// Adapter is a durable, file-backed persist.Adapter.
type Adapter struct {
	mu   sync.RWMutex
	docs map[document.ID]document.Snapshot

	dataDir  string
	wal      *wal
	snapshot *snapshotFile
}

// Open creates or recovers an Adapter rooted at dataDir: load the
// latest snapshot, open the WAL, then replay entries written after
// that snapshot.
func Open(dataDir string) (*Adapter, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("fileadapter: create data dir: %w", err)
	}

	a := &Adapter{
		dataDir:  dataDir,
		snapshot: newSnapshotFile(dataDir),
	}

	docs, err := a.snapshot.load()
	if err != nil {
		return nil, fmt.Errorf("fileadapter: load snapshot: %w", err)
	}
	a.docs = docs

	w, err := newWAL(filepath.Join(dataDir, "wal.log"))
	if err != nil {
		return nil, fmt.Errorf("fileadapter: open wal: %w", err)
	}
	a.wal = w

	entries, err := w.readAll()
	if err != nil {
		return nil, fmt.Errorf("fileadapter: replay wal: %w", err)
	}
	for _, e := range entries {
		switch e.Op {
		case opPut:
			a.docs[e.DocID] = e.Snap
		case opDelete:
			delete(a.docs, e.DocID)
		}
	}

	return a, nil
}

// Get implements persist.Adapter.
func (a *Adapter) Get(_ context.Context, id document.ID) (document.Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap, ok := a.docs[id]
	if !ok {
		return document.Snapshot{}, persist.ErrNotFound
	}
	return snap, nil
}

// Put implements persist.Adapter. The WAL is written before memory is
// updated — crash safety depends on that order.
func (a *Adapter) Put(_ context.Context, id document.ID, snap document.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.wal.append(walEntry{Op: opPut, DocID: id, Snap: snap}); err != nil {
		return fmt.Errorf("fileadapter: wal append: %w", err)
	}
	a.docs[id] = snap
	return nil
}

// List implements persist.Adapter.
func (a *Adapter) List(_ context.Context) ([]document.ID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]document.ID, 0, len(a.docs))
	for id := range a.docs {
		out = append(out, id)
	}
	return out, nil
}

// Delete implements persist.Adapter.
func (a *Adapter) Delete(_ context.Context, id document.ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.wal.append(walEntry{Op: opDelete, DocID: id}); err != nil {
		return fmt.Errorf("fileadapter: wal append: %w", err)
	}
	delete(a.docs, id)
	return nil
}

// VectorClockGet implements persist.Adapter.
func (a *Adapter) VectorClockGet(_ context.Context, id document.ID) (map[stamp.ReplicaID]uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap, ok := a.docs[id]
	if !ok {
		return nil, persist.ErrNotFound
	}
	return snap.Clock, nil
}

// VectorClockMerge implements persist.Adapter.
func (a *Adapter) VectorClockMerge(ctx context.Context, id document.ID, incoming map[stamp.ReplicaID]uint64) error {
	a.mu.Lock()
	snap, ok := a.docs[id]
	if !ok {
		snap = document.Snapshot{ID: id, Fields: make(map[document.Path]document.FieldSnapshot)}
	}
	merged := make(map[stamp.ReplicaID]uint64, len(snap.Clock)+len(incoming))
	for r, v := range snap.Clock {
		merged[r] = v
	}
	for r, v := range incoming {
		if v > merged[r] {
			merged[r] = v
		}
	}
	snap.Clock = merged
	a.mu.Unlock()

	return a.Put(ctx, id, snap)
}

// Snapshot flushes the full in-memory state to snapshot.json and
// truncates the WAL. Intended to be called on a timer by the server,
// and once more during graceful shutdown.
func (a *Adapter) Snapshot() error {
	a.mu.RLock()
	docs := make(map[document.ID]document.Snapshot, len(a.docs))
	for id, snap := range a.docs {
		docs[id] = snap
	}
	a.mu.RUnlock()

	if err := a.snapshot.save(docs); err != nil {
		return fmt.Errorf("fileadapter: save snapshot: %w", err)
	}
	return a.wal.truncate()
}

// Close closes the underlying WAL file. Call during shutdown.
func (a *Adapter) Close() error {
	return a.wal.close()
}
