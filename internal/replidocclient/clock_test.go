package replidocclient_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replidoc/internal/replidocclient"
	"replidoc/stamp"
)

func TestClient_NextStampIsMonotoneWithinOneInstance(t *testing.T) {
	c := replidocclient.New("http://localhost:8080", "", 0, filepath.Join(t.TempDir(), "clock.json"))

	first, err := c.NextStamp("r1")
	require.NoError(t, err)
	second, err := c.NextStamp("r1")
	require.NoError(t, err)

	assert.True(t, first.Less(second))
}

func TestClient_NextStampPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clock.json")

	a := replidocclient.New("http://localhost:8080", "", 0, path)
	last, err := a.NextStamp("r1")
	require.NoError(t, err)

	b := replidocclient.New("http://localhost:8080", "", 0, path)
	next, err := b.NextStamp("r1")
	require.NoError(t, err)

	assert.True(t, last.Less(next), "a fresh client reading the same state file must not repeat a clock value")
}

func TestClient_NextStampTracksEachReplicaIndependently(t *testing.T) {
	c := replidocclient.New("http://localhost:8080", "", 0, filepath.Join(t.TempDir(), "clock.json"))

	a, err := c.NextStamp("a")
	require.NoError(t, err)
	b, err := c.NextStamp("b")
	require.NoError(t, err)
	a2, err := c.NextStamp("a")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), a.Clock)
	assert.Equal(t, uint64(1), b.Clock)
	assert.Equal(t, uint64(2), a2.Clock)
	assert.Equal(t, stamp.ReplicaID("a"), a.Replica)
}

func TestClient_NextStampWithEmptyStatePathStaysInMemoryOnly(t *testing.T) {
	c := replidocclient.New("http://localhost:8080", "", 0, "")

	first, err := c.NextStamp("r1")
	require.NoError(t, err)
	second, err := c.NextStamp("r1")
	require.NoError(t, err)
	assert.True(t, first.Less(second))

	fresh := replidocclient.New("http://localhost:8080", "", 0, "")
	restarted, err := fresh.NextStamp("r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), restarted.Clock, "an in-memory-only clock restarts at zero every instance")
}
