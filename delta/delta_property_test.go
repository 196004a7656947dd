package delta_test

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"replidoc/delta"
	"replidoc/document"
	"replidoc/stamp"
)

// TestDelta_ComputeThenApplyReproducesSourceState verifies that a
// delta computed between two documents, applied to a fresh copy of
// the older one, reproduces the newer one's visible value.
func TestDelta_ComputeThenApplyReproducesSourceState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Compute(from, to) applied to a copy of from reproduces to's visible value", prop.ForAll(
		func(clock uint64, text string) bool {
			from := document.New("doc1", "r1")

			to := document.New("doc1", "r1")
			if err := to.Set("title", json.RawMessage(`"seed"`)); err != nil {
				return false
			}
			s := stamp.Stamp{Clock: clock + 1000, Replica: "peer"}
			if err := to.ApplyField("title", json.RawMessage(`"`+text+`"`), false, s, "peer"); err != nil {
				return false
			}

			d := delta.Compute(from, to)

			target := document.New("doc1", "r1")
			if err := delta.Apply(d, target); err != nil {
				return false
			}

			want, _ := to.Get("title")
			got, _ := target.Get("title")
			return string(want) == string(got)
		},
		gen.UInt64Range(0, 1000),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestDelta_ApplyIsIdempotent verifies that applying the same delta
// to a document twice leaves it in the same visible state as applying
// it once.
func TestDelta_ApplyIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("applying the same delta twice converges to the same state as applying it once", prop.ForAll(
		func(clock uint64, text string) bool {
			d := delta.Delta{
				DocumentID: "doc1",
				Changes: []delta.Change{{
					Path:   "title",
					Value:  json.RawMessage(`"` + text + `"`),
					Stamp:  stamp.Stamp{Clock: clock, Replica: "peer"},
					Origin: "peer",
				}},
			}

			target := document.New("doc1", "r1")
			if err := delta.Apply(d, target); err != nil {
				return false
			}
			before, _ := target.Get("title")

			if err := delta.Apply(d, target); err != nil {
				return false
			}
			after, _ := target.Get("title")

			return string(before) == string(after)
		},
		gen.UInt64Range(0, 1000),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
