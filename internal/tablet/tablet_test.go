package tablet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leishou0891/RAMCloud/internal/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	tab := New(1, 0, ^uint64(0))
	require.NoError(t, tab.Put("k", []byte("v")))
	v, err := tab.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestGetMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	tab := New(1, 0, ^uint64(0))
	_, err := tab.Get("missing")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestOwnsRespectsKeyRange(t *testing.T) {
	full := New(1, 0, ^uint64(0))
	assert.True(t, full.Owns("anything"))

	h := HashKey("k1")
	narrow := New(1, h, h)
	assert.True(t, narrow.Owns("k1"))
	assert.False(t, narrow.Owns("k2"))
}

func TestListKeysInRangeFiltersAndSorts(t *testing.T) {
	tab := New(1, 0, ^uint64(0))
	require.NoError(t, tab.Put("b", nil))
	require.NoError(t, tab.Put("a", nil))
	require.NoError(t, tab.Put("z", nil))

	keys := tab.ListKeysInRange("a", "c")
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestStateDefaultsToActive(t *testing.T) {
	tab := New(1, 0, ^uint64(0))
	assert.Equal(t, StateActive, tab.GetState())
	tab.SetState(StateRecovered)
	assert.Equal(t, StateRecovered, tab.GetState())
}

func TestInfoReflectsStoreStats(t *testing.T) {
	tab := New(1, 0, ^uint64(0))
	require.NoError(t, tab.Put("k", []byte("value")))

	info := tab.Info()
	assert.Equal(t, uint64(1), info.TableId)
	assert.Equal(t, 1, info.KeyCount)
	assert.Equal(t, 5, info.Bytes)
}
