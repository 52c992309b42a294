package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinSchemasProduceValidABI(t *testing.T) {
	for _, name := range Names() {
		s, ok := Lookup(name)
		require.True(t, ok)

		parsed, err := ABI(s)
		require.NoError(t, err, name)

		getter, ok := parsed.Methods[s.GetterMethod]
		require.True(t, ok, "%s: getter missing", name)
		assert.Len(t, getter.Outputs, s.Arity(), name)
		assert.Len(t, getter.Inputs, 1, name)

		count, ok := parsed.Methods[s.CountMethod]
		require.True(t, ok, "%s: count missing", name)
		assert.Len(t, count.Outputs, 1, name)
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	s, ok := Lookup("  Savings_Circle ")
	require.True(t, ok)
	assert.Equal(t, "getCircle", s.GetterMethod)

	_, ok = Lookup("unknown")
	assert.False(t, ok)
}
