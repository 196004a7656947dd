// Package delta computes and applies the field-level diffs exchanged
// between replicas. Deltas are commutative and idempotent because
// they resolve, like registers, purely by stamp order.
package delta

import (
	"encoding/json"
	"fmt"

	"replidoc/document"
	"replidoc/stamp"
)

// Change is one field-level mutation carried by a Delta.
type Change struct {
	Path      document.Path   `json:"path"`
	Value     json.RawMessage `json:"value,omitempty"`
	Tombstone bool            `json:"tombstone,omitempty"`
	Stamp     stamp.Stamp     `json:"stamp"`
	Origin    stamp.ReplicaID `json:"origin"`
}

// Delta is the set of changes addressed to one document. Deltas are
// conventionally ordered lists (insertion order) but Apply is
// commutative in change order, so transports may reorder or
// deduplicate freely.
type Delta struct {
	DocumentID document.ID `json:"document_id"`
	Changes    []Change    `json:"changes"`
}

// Compute produces the changes that, applied to from, would reproduce
// to's value-visible state: for each path in to whose register has a
// stamp strictly newer than from's (or absent from from), emit a
// Change. Paths present only in from are never emitted — LWW is a
// grow-only lattice; deletions show up explicitly as tombstones in to
// if they exist there.
func Compute(from, to *document.Document) Delta {
	fromFields := from.Fields()
	toFields := to.Fields()

	d := Delta{DocumentID: to.ID()}
	for path, toReg := range toFields {
		fromReg, ok := fromFields[path]
		if ok && fromReg.Stamp.Compare(toReg.Stamp) >= 0 {
			continue
		}
		d.Changes = append(d.Changes, Change{
			Path:      path,
			Value:     toReg.Value,
			Tombstone: toReg.Tombstone,
			Stamp:     toReg.Stamp,
			Origin:    toReg.Origin,
		})
	}
	return d
}

// Apply offers every change in d to the corresponding register in doc
// under the LWW rule, and observes each change's stamp in doc's
// vector clock so causal progress stays visible. Applying the same
// delta twice, or applying two deltas in either order, converges to
// the same document state because the outcome is just "the maximum
// stamp seen per path."
func Apply(d Delta, doc *document.Document) error {
	if d.DocumentID != doc.ID() {
		return fmt.Errorf("delta: document id mismatch: delta for %s, target is %s", d.DocumentID, doc.ID())
	}
	for _, c := range d.Changes {
		if err := doc.ApplyField(c.Path, c.Value, c.Tombstone, c.Stamp, c.Origin); err != nil {
			return fmt.Errorf("delta: apply %s: %w", c.Path, err)
		}
	}
	return nil
}
