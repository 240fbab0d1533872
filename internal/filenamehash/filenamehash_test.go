package filenamehash_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s1van/leveldb-mirror/internal/filenamehash"
)

func Test_Unit_AddInUseDrop_Success(t *testing.T) {
	t.Parallel()

	var c filenamehash.Counter

	name := "/mirror/000042.ldb"
	require.False(t, c.InUse(name))

	c.Add(name)
	require.True(t, c.InUse(name))

	c.Drop(name)
	require.False(t, c.InUse(name))
}

func Test_Unit_NestedAdds_RequireMatchingDrops(t *testing.T) {
	t.Parallel()

	var c filenamehash.Counter

	name := "/mirror/000007.ldb"
	c.Add(name)
	c.Add(name)
	require.True(t, c.InUse(name))

	c.Drop(name)
	require.True(t, c.InUse(name), "one opener remains")

	c.Drop(name)
	require.False(t, c.InUse(name))
}

func Test_Unit_UnrelatedName_NotInUse(t *testing.T) {
	t.Parallel()

	var c filenamehash.Counter

	c.Add("/mirror/000001.ldb")
	require.False(t, c.InUse("/mirror/000002.ldb"))
}

func Test_Unit_Slot_Deterministic(t *testing.T) {
	t.Parallel()

	// Same name must always hash to the same slot, or repeated Add/Drop
	// calls for an identical file could drift the counter.
	var c filenamehash.Counter

	for i := range 10 {
		name := fmt.Sprintf("/mirror/%06d.ldb", i)
		c.Add(name)
		require.True(t, c.InUse(name))
		c.Drop(name)
		require.False(t, c.InUse(name))
	}
}
