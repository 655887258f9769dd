package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Arena_MapAndClose(t *testing.T) {
	a, err := New(1 << 20)
	require.NoError(t, err)
	require.Equal(t, 1<<20, a.Cap())

	// Mapped memory must be writable and zeroed.
	b := a.Bytes()
	require.Equal(t, byte(0), b[0])
	require.Equal(t, byte(0), b[len(b)-1])
	b[0] = 0xAB
	require.Equal(t, byte(0xAB), a.Bytes()[0])

	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Close(), ErrClosed)
}

func Test_Arena_DefaultCapacity(t *testing.T) {
	a, err := New(0)
	require.NoError(t, err)
	defer a.Close()
	require.Equal(t, DefaultCapacity, a.Cap())
}

func Test_Arena_InvalidCapacity(t *testing.T) {
	_, err := New(-1)
	require.Error(t, err)
}
