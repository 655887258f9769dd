// Package verify checks collector assumptions that upstream code can
// silently break between cycles. The orchestrator runs it as an optional
// pre-cycle pass; a failure means the cluster tables no longer describe
// the object graph and a trace over them would be meaningless.
package verify

import (
	"errors"
	"fmt"

	"github.com/joshuapare/gckit/gc/cluster"
	"github.com/joshuapare/gckit/gc/registry"
	"github.com/joshuapare/gckit/pkg/types"
)

// Clusters validates cluster membership invariants: every root is
// allocated and flagged as a root of its own slot, and every member
// links back to its root.
func Clusters(objects *registry.Table, clusters *cluster.Table) error {
	var errs []error
	clusters.ForEach(func(id types.ClusterID, c *cluster.Cluster) {
		root := objects.Item(c.RootIndex)
		if !root.IsAllocated() {
			errs = append(errs, fmt.Errorf("cluster %d: root %d is not allocated", id, c.RootIndex))
			return
		}
		if !root.IsClusterRoot() {
			errs = append(errs, fmt.Errorf("cluster %d: root %s lost its ClusterRoot flag",
				id, objects.Name(c.RootIndex)))
		}
		if root.ClusterIndex() != id {
			errs = append(errs, fmt.Errorf("cluster %d: root %s points at cluster %d",
				id, objects.Name(c.RootIndex), root.ClusterIndex()))
		}
		for _, m := range c.Objects {
			it := objects.Item(m)
			if !it.IsAllocated() {
				continue
			}
			if it.OwnerIndex() != c.RootIndex {
				errs = append(errs, fmt.Errorf("cluster %d: member %s owned by %d, expected root %d",
					id, objects.Name(m), it.OwnerIndex(), c.RootIndex))
			}
		}
	})
	return errors.Join(errs...)
}
