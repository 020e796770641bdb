package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	n := NewNop()
	n.Put("key", "val")
	_, ok := n.Get("key")
	require.False(t, ok)

	n.Delete("key")
	_, ok = NewTyped[string](n).Get("key")
	require.False(t, ok)
}
