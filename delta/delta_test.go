package delta_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replidoc/delta"
	"replidoc/document"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestCompute_OnlyEmitsFieldsNewerThanFrom(t *testing.T) {
	from := document.New("doc1", "r1")
	require.NoError(t, from.Set("a", raw(`1`)))

	to := document.New("doc1", "r1")
	require.NoError(t, to.Merge(from))
	require.NoError(t, to.Set("b", raw(`2`)))

	d := delta.Compute(from, to)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, document.Path("b"), d.Changes[0].Path)
}

func TestApply_IsIdempotent(t *testing.T) {
	src := document.New("doc1", "r1")
	require.NoError(t, src.Set("a", raw(`"x"`)))
	d := delta.Compute(document.New("doc1", "r1"), src)

	dst := document.New("doc1", "r2")
	require.NoError(t, delta.Apply(d, dst))
	require.NoError(t, delta.Apply(d, dst))

	v, ok := dst.Get("a")
	require.True(t, ok)
	assert.Equal(t, raw(`"x"`), v)
}

func TestApply_ConvergesRegardlessOfDeltaOrder(t *testing.T) {
	a := document.New("doc1", "ra")
	require.NoError(t, a.Set("a", raw(`"from a"`)))
	dA := delta.Compute(document.New("doc1", "ra"), a)

	b := document.New("doc1", "rb")
	require.NoError(t, b.Set("b", raw(`"from b"`)))
	dB := delta.Compute(document.New("doc1", "rb"), b)

	ab := document.New("doc1", "observer")
	require.NoError(t, delta.Apply(delta.Delta{DocumentID: "doc1", Changes: dA.Changes}, ab))
	require.NoError(t, delta.Apply(delta.Delta{DocumentID: "doc1", Changes: dB.Changes}, ab))

	ba := document.New("doc1", "observer")
	require.NoError(t, delta.Apply(delta.Delta{DocumentID: "doc1", Changes: dB.Changes}, ba))
	require.NoError(t, delta.Apply(delta.Delta{DocumentID: "doc1", Changes: dA.Changes}, ba))

	va, _ := ab.Get("a")
	vb, _ := ab.Get("b")
	va2, _ := ba.Get("a")
	vb2, _ := ba.Get("b")
	assert.Equal(t, va, va2)
	assert.Equal(t, vb, vb2)
}

func TestApply_RejectsMismatchedDocumentID(t *testing.T) {
	d := delta.Delta{DocumentID: "other", Changes: nil}
	doc := document.New("doc1", "r1")
	err := delta.Apply(d, doc)
	assert.Error(t, err)
}
