package claims

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_WithDoesNotMutate(t *testing.T) {
	base := New(Claim{Type: Subject, Value: "alice"})
	extended := base.With(Claim{Type: Role, Value: "administrator"})

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, extended.Len())
	assert.False(t, base.Has(Role, "administrator"))
	assert.True(t, extended.Has(Role, "administrator"))
}

func TestSet_AliasingSafe(t *testing.T) {
	base := New(Claim{Type: Subject, Value: "alice"}, Claim{Type: Role, Value: "a"})
	// Two sets derived from the same base must not share backing storage.
	left := base.With(Claim{Type: Role, Value: "left"})
	right := base.With(Claim{Type: Role, Value: "right"})

	assert.Equal(t, []string{"a", "left"}, left.Values(Role))
	assert.Equal(t, []string{"a", "right"}, right.Values(Role))
}

func TestSet_Replace(t *testing.T) {
	s := New(
		Claim{Type: Subject, Value: "alice"},
		Claim{Type: Role, Value: "a"},
		Claim{Type: Role, Value: "b"},
	)

	replaced := s.Replace(Role, "c")
	assert.Equal(t, []string{"c"}, replaced.Values(Role))
	assert.Equal(t, []string{"a", "b"}, s.Values(Role))

	removed := s.Without(Role)
	assert.Empty(t, removed.Values(Role))
	sub, ok := removed.First(Subject)
	assert.True(t, ok)
	assert.Equal(t, "alice", sub)
}

func TestSet_Map(t *testing.T) {
	s := New(
		Claim{Type: Subject, Value: "alice"},
		Claim{Type: Role, Value: "administrator"},
		Claim{Type: Role, Value: "other"},
	)

	m := s.Map()
	assert.Equal(t, "alice", m[Subject])
	assert.Equal(t, []string{"administrator", "other"}, m[Role])
}

func TestSet_Filter(t *testing.T) {
	s := New(
		Claim{Type: Subject, Value: "alice"},
		Claim{Type: Email, Value: "alice@example.com"},
		Claim{Type: Role, Value: "administrator"},
	)

	filtered := s.Filter(Email)
	assert.Equal(t, 1, filtered.Len())
	assert.Equal(t, []string{Email}, filtered.Types())
}

func TestSet_JSONRoundTrip(t *testing.T) {
	s := New(Claim{Type: Subject, Value: "alice"}, Claim{Type: Role, Value: "administrator"})

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Set
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s.All(), decoded.All())

	empty, err := json.Marshal(Set{})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(empty))
}
