package register_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replidoc/register"
	"replidoc/stamp"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestRegister_FirstAssignAdoptsUnconditionally(t *testing.T) {
	var r register.Register
	assert.True(t, r.IsZero())

	changed, err := r.Assign(raw(`"a"`), false, stamp.Stamp{Clock: 1, Replica: "x"}, "x")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, r.IsZero())

	v, ok := r.Get()
	assert.True(t, ok)
	assert.Equal(t, raw(`"a"`), v)
}

func TestRegister_NewerStampWins(t *testing.T) {
	var r register.Register
	_, _ = r.Assign(raw(`"a"`), false, stamp.Stamp{Clock: 1, Replica: "x"}, "x")

	changed, err := r.Assign(raw(`"b"`), false, stamp.Stamp{Clock: 2, Replica: "x"}, "x")
	require.NoError(t, err)
	assert.True(t, changed)

	v, _ := r.Get()
	assert.Equal(t, raw(`"b"`), v)
}

func TestRegister_StaleStampIsDiscarded(t *testing.T) {
	var r register.Register
	_, _ = r.Assign(raw(`"a"`), false, stamp.Stamp{Clock: 5, Replica: "x"}, "x")

	changed, err := r.Assign(raw(`"stale"`), false, stamp.Stamp{Clock: 2, Replica: "x"}, "x")
	require.NoError(t, err)
	assert.False(t, changed)

	v, _ := r.Get()
	assert.Equal(t, raw(`"a"`), v)
}

func TestRegister_EqualStampSameValueIsNoopNotError(t *testing.T) {
	var r register.Register
	s := stamp.Stamp{Clock: 1, Replica: "x"}
	_, _ = r.Assign(raw(`"a"`), false, s, "x")

	changed, err := r.Assign(raw(`"a"`), false, s, "x")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRegister_EqualStampDifferentValueIsInvariantViolation(t *testing.T) {
	var r register.Register
	s := stamp.Stamp{Clock: 1, Replica: "x"}
	_, _ = r.Assign(raw(`"a"`), false, s, "x")

	_, err := r.Assign(raw(`"b"`), false, s, "x")
	require.Error(t, err)

	var mismatch *register.ErrEqualStampMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestRegister_TieBreakTombstoneBeatsValueOnHigherReplica(t *testing.T) {
	var r register.Register
	_, _ = r.Assign(raw(`"a"`), false, stamp.Stamp{Clock: 3, Replica: "a"}, "a")

	changed, err := r.Assign(nil, true, stamp.Stamp{Clock: 3, Replica: "b"}, "b")
	require.NoError(t, err)
	assert.True(t, changed)

	_, ok := r.Get()
	assert.False(t, ok, "tombstoned register must not be visible")
}

func TestRegister_CloneIsIndependent(t *testing.T) {
	var r register.Register
	_, _ = r.Assign(raw(`"a"`), false, stamp.Stamp{Clock: 1, Replica: "x"}, "x")

	clone := r.Clone()
	_, _ = r.Assign(raw(`"b"`), false, stamp.Stamp{Clock: 2, Replica: "x"}, "x")

	v, _ := clone.Get()
	assert.Equal(t, raw(`"a"`), v, "clone must not observe later mutation of the original")
}
