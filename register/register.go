// Package register implements one Last-Write-Wins cell: a value, the
// stamp that last wrote it, and the replica that produced that write.
// A standalone cell, so document.Document can hold one Register per
// field.
package register

import (
	"bytes"
	"encoding/json"
	"fmt"

	"replidoc/stamp"
)

// ErrEqualStampMismatch reports two writes that presented the same
// stamp but disagree on value. This can only happen if a replica
// identifier was reused or a stamp was forged; it is never produced
// by correct local writes.
type ErrEqualStampMismatch struct {
	Stamp stamp.Stamp
}

func (e *ErrEqualStampMismatch) Error() string {
	return fmt.Sprintf("register: two values presented stamp %+v with different content", e.Stamp)
}

// Register is one LWW cell. Value is an opaque encoded blob (the core
// never inspects its structure); Tombstone marks a delete that still
// carries a stamp — deletes are never represented as plain absence.
type Register struct {
	Value     json.RawMessage `json:"value,omitempty"`
	Tombstone bool            `json:"tombstone,omitempty"`
	Stamp     stamp.Stamp     `json:"stamp"`
	Origin    stamp.ReplicaID `json:"origin"`

	initialized bool
}

// IsZero reports whether the register has never been assigned.
func (r *Register) IsZero() bool { return !r.initialized }

// Assign applies the LWW rule:
//
//   - uninitialized register: adopt unconditionally.
//   - newStamp > r.Stamp: overwrite.
//   - newStamp < r.Stamp: discard (no-op), reported via the bool return.
//   - newStamp == r.Stamp: values must be equal; a mismatch is an
//     InvariantViolation.
//
// Assign returns whether the register's visible value changed.
func (r *Register) Assign(value json.RawMessage, tombstone bool, newStamp stamp.Stamp, origin stamp.ReplicaID) (bool, error) {
	if !r.initialized {
		r.adopt(value, tombstone, newStamp, origin)
		return true, nil
	}

	switch r.Stamp.Compare(newStamp) {
	case -1: // r.Stamp < newStamp: incoming wins
		r.adopt(value, tombstone, newStamp, origin)
		return true, nil
	case 1: // r.Stamp > newStamp: incoming is stale, discard
		return false, nil
	default: // equal stamps: values must agree
		if tombstone != r.Tombstone || !bytes.Equal(value, r.Value) {
			return false, &ErrEqualStampMismatch{Stamp: newStamp}
		}
		return false, nil
	}
}

func (r *Register) adopt(value json.RawMessage, tombstone bool, s stamp.Stamp, origin stamp.ReplicaID) {
	r.Value = value
	r.Tombstone = tombstone
	r.Stamp = s
	r.Origin = origin
	r.initialized = true
}

// Get returns the register's visible value. Tombstones and
// never-written registers both report ok=false; callers that need to
// distinguish "deleted" from "never set" should check IsZero first.
func (r *Register) Get() (value json.RawMessage, ok bool) {
	if !r.initialized || r.Tombstone {
		return nil, false
	}
	return r.Value, true
}

// Clone returns an independent copy of r.
func (r *Register) Clone() *Register {
	out := *r
	if r.Value != nil {
		out.Value = append(json.RawMessage(nil), r.Value...)
	}
	return &out
}
