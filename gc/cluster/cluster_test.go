package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gckit/gc/alloc"
	"github.com/joshuapare/gckit/gc/layout"
	"github.com/joshuapare/gckit/gc/registry"
	"github.com/joshuapare/gckit/pkg/types"
)

func testSetup(t *testing.T) (*registry.Table, *Table, types.TypeID) {
	t.Helper()
	lr := layout.NewRegistry()
	id := lr.MustRegister(layout.TypeDesc{
		Name:   "Actor",
		Size:   8,
		Fields: []layout.Field{{Name: "Other", Kind: layout.FieldRef, Offset: 0}},
	})
	objects, err := registry.New(lr, registry.Config{
		MaxObjects:    256,
		ArenaCapacity: 1 << 16,
		Slots:         alloc.DefaultConfig,
	})
	require.NoError(t, err)
	t.Cleanup(func() { objects.Close() })
	return objects, NewTable(objects), id
}

func mustAlloc(t *testing.T, objects *registry.Table, id types.TypeID) types.Index {
	t.Helper()
	idx, err := objects.Allocate(id, nil)
	require.NoError(t, err)
	return idx
}

func Test_Create_And_AddMember(t *testing.T) {
	objects, clusters, id := testSetup(t)

	root := mustAlloc(t, objects, id)
	m1 := mustAlloc(t, objects, id)
	m2 := mustAlloc(t, objects, id)

	cid := clusters.Create(root)
	clusters.AddMember(cid, m1)
	clusters.AddMember(cid, m2)

	require.True(t, objects.Item(root).IsClusterRoot())
	require.Equal(t, cid, objects.Item(root).ClusterIndex())
	require.Equal(t, root, objects.Item(m1).OwnerIndex())
	require.Equal(t, root, objects.Item(m2).OwnerIndex())
	require.Equal(t, []types.Index{m1, m2}, clusters.Cluster(cid).Objects)
	require.Equal(t, 1, clusters.Len())
}

func Test_MarkReferencedClusters_Propagates(t *testing.T) {
	objects, clusters, id := testSetup(t)

	rootA := mustAlloc(t, objects, id)
	rootB := mustAlloc(t, objects, id)
	rootC := mustAlloc(t, objects, id)
	ca := clusters.Create(rootA)
	cb := clusters.Create(rootB)
	cc := clusters.Create(rootC)
	clusters.AddReferencedCluster(ca, cb)
	clusters.AddReferencedCluster(cb, cc)

	for _, idx := range []types.Index{rootB, rootC} {
		objects.Item(idx).SetFlags(types.FlagUnreachable)
	}

	clusters.MarkReferencedClustersAsReachable(ca, func(types.Index) {
		t.Fatal("no standalone objects should be visited")
	})

	require.False(t, objects.Item(rootB).IsUnreachable())
	require.False(t, objects.Item(rootC).IsUnreachable())
}

func Test_MarkReferencedClusters_MutableObjects(t *testing.T) {
	objects, clusters, id := testSetup(t)

	root := mustAlloc(t, objects, id)
	loose := mustAlloc(t, objects, id)
	cid := clusters.Create(root)
	clusters.AddMutableReference(cid, loose)

	objects.Item(loose).SetFlags(types.FlagUnreachable)

	var visited []types.Index
	clusters.MarkReferencedClustersAsReachable(cid, func(idx types.Index) {
		visited = append(visited, idx)
	})

	require.False(t, objects.Item(loose).IsUnreachable())
	require.Equal(t, []types.Index{loose}, visited)
	require.False(t, clusters.ClustersNeedDissolving())
}

func Test_MarkReferencedClusters_MemberOfOtherCluster(t *testing.T) {
	objects, clusters, id := testSetup(t)

	rootA := mustAlloc(t, objects, id)
	rootB := mustAlloc(t, objects, id)
	member := mustAlloc(t, objects, id)
	ca := clusters.Create(rootA)
	cb := clusters.Create(rootB)
	clusters.AddMember(cb, member)
	clusters.AddMutableReference(ca, member)

	objects.Item(rootB).SetFlags(types.FlagUnreachable)

	clusters.MarkReferencedClustersAsReachable(ca, func(types.Index) {})

	require.True(t, objects.Item(member).HasAnyFlags(types.FlagReachableInCluster))
	require.False(t, objects.Item(rootB).IsUnreachable())
}

func Test_PendingKillMutable_FlagsDissolution(t *testing.T) {
	objects, clusters, id := testSetup(t)

	root := mustAlloc(t, objects, id)
	member := mustAlloc(t, objects, id)
	dying := mustAlloc(t, objects, id)
	cid := clusters.Create(root)
	clusters.AddMember(cid, member)
	clusters.AddMutableReference(cid, dying)

	objects.MarkPendingKill(dying)

	clusters.MarkReferencedClustersAsReachable(cid, func(types.Index) {})

	require.True(t, clusters.ClustersNeedDissolving())
	require.Equal(t, []types.Index{types.InvalidIndex}, clusters.Cluster(cid).MutableObjects)

	clusters.DissolveFlagged()

	// Root was alive, so members are demoted but stay reachable.
	require.False(t, objects.Item(root).IsClusterRoot())
	require.Equal(t, types.InvalidIndex, objects.Item(member).OwnerIndex())
	require.False(t, objects.Item(member).IsUnreachable())
	require.False(t, clusters.ClustersNeedDissolving())
	require.Equal(t, 0, clusters.Len())
}

func Test_Dissolve_DeadRootMarksMembers(t *testing.T) {
	objects, clusters, id := testSetup(t)

	root := mustAlloc(t, objects, id)
	m1 := mustAlloc(t, objects, id)
	m2 := mustAlloc(t, objects, id)
	cid := clusters.Create(root)
	clusters.AddMember(cid, m1)
	clusters.AddMember(cid, m2)

	objects.Item(root).SetFlags(types.FlagUnreachable)
	clusters.Dissolve(cid)

	require.True(t, objects.Item(m1).IsUnreachable())
	require.True(t, objects.Item(m2).IsUnreachable())
	require.Equal(t, types.InvalidIndex, objects.Item(m1).OwnerIndex())
	require.Equal(t, types.InvalidCluster, objects.Item(root).ClusterIndex())
}

func Test_Dissolve_DropsIncomingEdges(t *testing.T) {
	objects, clusters, id := testSetup(t)

	rootA := mustAlloc(t, objects, id)
	rootB := mustAlloc(t, objects, id)
	ca := clusters.Create(rootA)
	cb := clusters.Create(rootB)
	clusters.AddReferencedCluster(ca, cb)

	clusters.Dissolve(cb)
	require.Empty(t, clusters.Cluster(ca).ReferencedClusters)

	// The freed slot is recycled.
	rootC := mustAlloc(t, objects, id)
	cc := clusters.Create(rootC)
	require.Equal(t, cb, cc)
}
