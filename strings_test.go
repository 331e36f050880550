package roundtable

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCasefold(t *testing.T) {
	upper, err := Casefold("ALICE")
	require.NoError(t, err)
	lower, err := Casefold("alice")
	require.NoError(t, err)
	assert.Equal(t, lower, upper)
}

func TestCasefoldNickname(t *testing.T) {
	folded, err := CasefoldNickname("Alice", DefaultNickLen)
	require.NoError(t, err)
	assert.Equal(t, "alice", folded)

	for _, bad := range []string{
		"",
		"#alice",
		"&alice",
		":alice",
		"ali ce",
		"ali,ce",
		strings.Repeat("a", DefaultNickLen+1),
	} {
		_, err := CasefoldNickname(bad, DefaultNickLen)
		assert.Error(t, err, "nickname %q should be rejected", bad)
	}
}

func TestFoldRoomSegment(t *testing.T) {
	folded, err := foldRoomSegment("General-Chat", DefaultGroupLen)
	require.NoError(t, err)
	assert.Equal(t, "general-chat", folded)

	for _, bad := range []string{"", "a/b", "a b", strings.Repeat("g", DefaultGroupLen+1)} {
		_, err := foldRoomSegment(bad, DefaultGroupLen)
		assert.Error(t, err, "segment %q should be rejected", bad)
	}
}
