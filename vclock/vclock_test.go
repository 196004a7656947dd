package vclock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replidoc/stamp"
	"replidoc/vclock"
)

func TestClock_TickIncrementsOwnCoordinateOnly(t *testing.T) {
	c := vclock.New()
	assert.EqualValues(t, 1, c.Tick("a"))
	assert.EqualValues(t, 2, c.Tick("a"))
	assert.EqualValues(t, 0, c.Get("b"))
}

func TestClock_ObserveRaisesToMax(t *testing.T) {
	c := vclock.New()
	c.Observe("a", 5)
	c.Observe("a", 3) // lower: no-op
	assert.EqualValues(t, 5, c.Get("a"))
	c.Observe("a", 7)
	assert.EqualValues(t, 7, c.Get("a"))
}

func TestClock_MergeTakesCoordinatewiseMax(t *testing.T) {
	a := vclock.New()
	a.Observe("x", 3)
	a.Observe("y", 1)

	b := vclock.New()
	b.Observe("x", 1)
	b.Observe("y", 5)
	b.Observe("z", 2)

	a.Merge(b)
	assert.EqualValues(t, 3, a.Get("x"))
	assert.EqualValues(t, 5, a.Get("y"))
	assert.EqualValues(t, 2, a.Get("z"))
}

func TestClock_SnapshotAndLoadRoundTrip(t *testing.T) {
	c := vclock.New()
	c.Observe("a", 4)
	c.Observe("b", 9)

	snap := c.Snapshot()
	require.Len(t, snap, 2)

	restored := vclock.New()
	restored.Load(snap)
	assert.EqualValues(t, 4, restored.Get("a"))
	assert.EqualValues(t, 9, restored.Get("b"))
}

func TestClock_SnapshotElidesZeroCoordinates(t *testing.T) {
	c := vclock.New()
	c.Observe("a", 0)
	assert.Empty(t, c.Snapshot())
}

func TestCompareMaps(t *testing.T) {
	cases := []struct {
		name string
		a, b map[stamp.ReplicaID]uint64
		want vclock.Relation
	}{
		{"equal", map[stamp.ReplicaID]uint64{"a": 1}, map[stamp.ReplicaID]uint64{"a": 1}, vclock.Equal},
		{"less", map[stamp.ReplicaID]uint64{"a": 1}, map[stamp.ReplicaID]uint64{"a": 2}, vclock.Less},
		{"greater", map[stamp.ReplicaID]uint64{"a": 2}, map[stamp.ReplicaID]uint64{"a": 1}, vclock.Greater},
		{"concurrent", map[stamp.ReplicaID]uint64{"a": 2, "b": 0}, map[stamp.ReplicaID]uint64{"a": 1, "b": 1}, vclock.Concurrent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, vclock.CompareMaps(tc.a, tc.b))
		})
	}
}
