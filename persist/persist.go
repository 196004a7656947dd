// Package persist defines the persistence boundary: an abstract
// load/save contract for document snapshots and vector clocks, kept
// separable from full snapshots so the coordinator can cheaply merge
// a vector clock without serializing every field.
package persist

import (
	"context"
	"errors"

	"replidoc/document"
	"replidoc/stamp"
)

// ErrNotFound is returned by Get when doc_id has never been stored.
var ErrNotFound = errors.New("persist: document not found")

// Adapter is the storage contract the coordinator depends on. It is
// implemented by memadapter (in-process) and fileadapter (WAL plus
// periodic snapshot).
type Adapter interface {
	// Get returns the stored snapshot for id, or ErrNotFound.
	Get(ctx context.Context, id document.ID) (document.Snapshot, error)

	// Put atomically replaces the stored snapshot for id.
	Put(ctx context.Context, id document.ID, snap document.Snapshot) error

	// List returns every document id known to the adapter, for
	// admin/recovery use only.
	List(ctx context.Context) ([]document.ID, error)

	// Delete removes a document's stored state. Optional in the
	// sense that callers must tolerate ErrNotFound; used only by
	// administrative document removal, never by normal sync.
	Delete(ctx context.Context, id document.ID) error

	// VectorClockGet returns just id's vector clock, without loading
	// every field.
	VectorClockGet(ctx context.Context, id document.ID) (map[stamp.ReplicaID]uint64, error)

	// VectorClockMerge takes the per-replica max of the stored clock
	// and incoming, and persists the result.
	VectorClockMerge(ctx context.Context, id document.ID, incoming map[stamp.ReplicaID]uint64) error
}
