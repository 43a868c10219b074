package canonical

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	a, err := Marshal(map[string]any{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	b, err := Marshal(map[string]any{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)

	require.Equal(t, `{"a":1,"b":2,"c":3}`, string(a))
	require.Equal(t, a, b)
}

func TestMarshal_RecursiveSorting(t *testing.T) {
	out, err := Marshal(map[string]any{
		"b": 2,
		"a": 1,
		"c": map[string]any{"y": 1, "x": 2},
	})
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":2,"c":{"x":2,"y":1}}`, string(out))
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	out, err := Marshal(map[string]string{"html": "<script> & </script>"})
	require.NoError(t, err)
	require.Equal(t, `{"html":"<script> & </script>"}`, string(out))
}

func TestMarshal_NullAndArrays(t *testing.T) {
	out, err := Marshal(map[string]any{"arr": []any{3, 1, 2}, "nil": nil})
	require.NoError(t, err)
	require.Equal(t, `{"arr":[3,1,2],"nil":null}`, string(out))
}

func TestMarshal_RejectsUnserializable(t *testing.T) {
	_, err := Marshal(map[string]any{"fn": func() {}})
	require.Error(t, err)
}

func TestHash_StableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": 1, "x": 2}})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"c": map[string]any{"x": 2, "y": 1}, "a": 1, "b": 2})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

// Canonical form must be a fixed point: re-parsing the canonical bytes
// and canonicalizing again yields the identical byte string.
func TestMarshal_FixedPoint(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genValue := gen.MapOf(gen.AlphaString(), gen.Int64())

	properties.Property("canonical(parse(canonical(v))) == canonical(v)", prop.ForAll(
		func(m map[string]int64) bool {
			first, err := Marshal(m)
			if err != nil {
				return false
			}
			var parsed any
			if err := json.Unmarshal(first, &parsed); err != nil {
				return false
			}
			second, err := Marshal(parsed)
			if err != nil {
				return false
			}
			return string(first) == string(second)
		},
		genValue,
	))

	properties.TestingRun(t)
}
