package stamp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"replidoc/stamp"
)

func TestStamp_CompareOrdersByClockThenReplica(t *testing.T) {
	a := stamp.Stamp{Clock: 1, Replica: "a"}
	b := stamp.Stamp{Clock: 2, Replica: "a"}
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))

	tied1 := stamp.Stamp{Clock: 5, Replica: "a"}
	tied2 := stamp.Stamp{Clock: 5, Replica: "b"}
	assert.Equal(t, -1, tied1.Compare(tied2))
	assert.Equal(t, 1, tied2.Compare(tied1))
}

func TestStamp_LessAndEqual(t *testing.T) {
	a := stamp.Stamp{Clock: 1, Replica: "a"}
	b := stamp.Stamp{Clock: 1, Replica: "b"}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
}

func TestTicker_NextIsStrictlyMonotoneAndRecordsOwnTick(t *testing.T) {
	clock := &fakeSource{}
	ticker := stamp.NewTicker("r1", clock)

	s1 := ticker.Next()
	s2 := ticker.Next()

	assert.True(t, s1.Less(s2))
	assert.EqualValues(t, 2, clock.n, "each Next ticks the clock source once")
	assert.Equal(t, stamp.ReplicaID("r1"), s1.Replica)
	assert.Equal(t, stamp.ReplicaID("r1"), ticker.Replica())
}

type fakeSource struct{ n uint64 }

func (f *fakeSource) Tick(stamp.ReplicaID) uint64 {
	f.n++
	return f.n
}
