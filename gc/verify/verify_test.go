package verify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gckit/gc/alloc"
	"github.com/joshuapare/gckit/gc/cluster"
	"github.com/joshuapare/gckit/gc/layout"
	"github.com/joshuapare/gckit/gc/registry"
	"github.com/joshuapare/gckit/pkg/types"
)

func testSetup(t *testing.T) (*registry.Table, *cluster.Table, types.TypeID) {
	t.Helper()
	lr := layout.NewRegistry()
	id := lr.MustRegister(layout.TypeDesc{Name: "Actor", Size: 8})
	objects, err := registry.New(lr, registry.Config{
		MaxObjects:    128,
		ArenaCapacity: 1 << 16,
		Slots:         alloc.DefaultConfig,
	})
	require.NoError(t, err)
	t.Cleanup(func() { objects.Close() })
	return objects, cluster.NewTable(objects), id
}

func Test_Clusters_Valid(t *testing.T) {
	objects, clusters, id := testSetup(t)

	root, err := objects.Allocate(id, nil)
	require.NoError(t, err)
	member, err := objects.Allocate(id, nil)
	require.NoError(t, err)
	cid := clusters.Create(root)
	clusters.AddMember(cid, member)

	require.NoError(t, Clusters(objects, clusters))
}

func Test_Clusters_BrokenOwnerLink(t *testing.T) {
	objects, clusters, id := testSetup(t)

	root, err := objects.Allocate(id, nil)
	require.NoError(t, err)
	member, err := objects.Allocate(id, nil)
	require.NoError(t, err)
	cid := clusters.Create(root)
	clusters.AddMember(cid, member)

	objects.Item(member).SetOwnerIndex(types.InvalidIndex)

	err = Clusters(objects, clusters)
	require.Error(t, err)
	require.Contains(t, err.Error(), "owned by")
}

func Test_Clusters_LostRootFlag(t *testing.T) {
	objects, clusters, id := testSetup(t)

	root, err := objects.Allocate(id, nil)
	require.NoError(t, err)
	clusters.Create(root)

	objects.Item(root).ClearFlags(types.FlagClusterRoot)

	err = Clusters(objects, clusters)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ClusterRoot")
}
