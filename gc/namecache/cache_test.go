package namecache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gckit/pkg/types"
)

func Test_SetAndName(t *testing.T) {
	c := New()
	c.Set(3, "PlayerController")

	name, ok := c.Name(3)
	require.True(t, ok)
	require.Equal(t, "PlayerController", name)

	_, ok = c.Name(4)
	require.False(t, ok)
	require.Equal(t, 1, c.Len())
}

func Test_Lookup_CaseInsensitive(t *testing.T) {
	c := New()
	c.Set(7, "GameState")

	for _, q := range []string{"GameState", "gamestate", "GAMESTATE", "gAmEsTaTe"} {
		idx, ok := c.Lookup(q)
		require.True(t, ok, q)
		require.Equal(t, types.Index(7), idx)
	}

	_, ok := c.Lookup("GameStat")
	require.False(t, ok)
}

func Test_Lookup_UnicodeFolding(t *testing.T) {
	c := New()
	c.Set(1, "Straße")

	idx, ok := c.Lookup("STRASSE")
	require.True(t, ok)
	require.Equal(t, types.Index(1), idx)
}

func Test_Set_ReplacesPreviousName(t *testing.T) {
	c := New()
	c.Set(5, "OldName")
	c.Set(5, "NewName")

	name, ok := c.Name(5)
	require.True(t, ok)
	require.Equal(t, "NewName", name)

	_, ok = c.Lookup("oldname")
	require.False(t, ok)

	idx, ok := c.Lookup("newname")
	require.True(t, ok)
	require.Equal(t, types.Index(5), idx)
}

func Test_Set_EmptyRemoves(t *testing.T) {
	c := New()
	c.Set(2, "Ephemeral")
	c.Set(2, "")

	_, ok := c.Name(2)
	require.False(t, ok)
	_, ok = c.Lookup("ephemeral")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func Test_Remove_KeepsLaterMapping(t *testing.T) {
	c := New()
	c.Set(1, "Shared")
	c.Set(2, "Shared") // takes over the folded mapping

	c.Remove(1)

	// Removing the older holder must not drop the newer mapping.
	idx, ok := c.Lookup("shared")
	require.True(t, ok)
	require.Equal(t, types.Index(2), idx)
}

func Test_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				idx := types.Index(w*200 + i)
				name := fmt.Sprintf("Object_%d", idx)
				c.Set(idx, name)
				got, ok := c.Name(idx)
				if !ok || got != name {
					t.Errorf("lost name for %d", idx)
					return
				}
				if _, ok := c.Lookup(name); !ok {
					t.Errorf("lost lookup for %q", name)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 1600, c.Len())
}
