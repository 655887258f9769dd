package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/gckit/gc"
	"github.com/joshuapare/gckit/gc/layout"
	"github.com/joshuapare/gckit/pkg/types"
)

var (
	soakObjects     int
	soakCycles      int
	soakSeed        int64
	soakSerial      bool
	soakIncremental bool
)

func init() {
	cmd := newSoakCmd()
	cmd.Flags().IntVar(&soakObjects, "objects", 5000, "Objects allocated per cycle")
	cmd.Flags().IntVar(&soakCycles, "cycles", 50, "Number of collection cycles")
	cmd.Flags().Int64Var(&soakSeed, "seed", time.Now().UnixNano(), "Random seed")
	cmd.Flags().BoolVar(&soakSerial, "serial", false, "Force single-threaded tracing")
	cmd.Flags().BoolVar(&soakIncremental, "incremental", false, "Spread destruction over purge ticks")
	rootCmd.AddCommand(cmd)
}

func newSoakCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "soak",
		Short: "Run randomized collection cycles with survivor cross-checks",
		Long: `The soak command builds random object graphs, runs collection
cycles over them, and after every cycle compares the collector's survivor
set against a naive breadth-first reachability computation. Any mismatch
is reported and fails the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSoak()
		},
	}
}

const (
	slotLeft  = 0
	slotRight = 4
	slotKids  = 8
)

// soakWorld is the mutable object population the soak mutates between
// cycles.
type soakWorld struct {
	collector *gc.Collector
	node      types.TypeID
	objs      []types.Index
	rng       *rand.Rand
}

func runSoak() error {
	layouts := layout.NewRegistry()
	node := layouts.MustRegister(layout.TypeDesc{
		Name: "SoakNode",
		Size: 16,
		Fields: []layout.Field{
			{Name: "Left", Kind: layout.FieldRef, Offset: slotLeft},
			{Name: "Right", Kind: layout.FieldRef, Offset: slotRight},
			{Name: "Kids", Kind: layout.FieldRefArray, Offset: slotKids},
		},
	})

	opts := gc.DefaultOptions()
	opts.AllowParallel = !soakSerial
	collector, err := gc.New(layouts, opts)
	if err != nil {
		return err
	}
	defer collector.Close()

	w := &soakWorld{
		collector: collector,
		node:      node,
		rng:       rand.New(rand.NewSource(soakSeed)),
	}
	printInfo("soak: seed=%d objects/cycle=%d cycles=%d parallel=%v\n",
		soakSeed, soakObjects, soakCycles, !soakSerial)

	var totalAllocated, totalCollected int
	start := time.Now()
	for cycle := 0; cycle < soakCycles; cycle++ {
		allocated, err := w.mutate()
		if err != nil {
			return fmt.Errorf("cycle %d: %w", cycle, err)
		}
		totalAllocated += allocated

		expected := w.naiveClosure()

		cycleStart := time.Now()
		w.collector.CollectGarbage(types.KeepNone, !soakIncremental)
		if soakIncremental {
			for !w.collector.IncrementalPurge(time.Millisecond) {
			}
		}
		elapsed := time.Since(cycleStart)

		collected, err := w.reconcile(expected)
		if err != nil {
			return fmt.Errorf("cycle %d: %w", cycle, err)
		}
		totalCollected += collected
		printVerbose("cycle %d: %d live, %d collected, %s\n",
			cycle, w.collector.Objects().Live(), collected, elapsed)
	}

	printInfo("soak passed: %d allocated, %d collected, %d surviving, %s total\n",
		totalAllocated, totalCollected, w.collector.Objects().Live(), time.Since(start))
	return nil
}

// mutate grows and perturbs the graph: new objects, new edges, root set
// churn, and a few pending kills.
func (w *soakWorld) mutate() (int, error) {
	objects := w.collector.Objects()

	fresh := make([]types.Index, 0, soakObjects)
	for i := 0; i < soakObjects; i++ {
		idx, err := objects.Allocate(w.node, nil)
		if err != nil {
			return 0, err
		}
		fresh = append(fresh, idx)
	}
	w.objs = append(w.objs, fresh...)

	pick := func() types.Index { return w.objs[w.rng.Intn(len(w.objs))] }
	for _, obj := range fresh {
		if w.rng.Intn(4) > 0 {
			objects.SetRef(obj, slotLeft, pick())
		}
		if w.rng.Intn(4) > 0 {
			objects.SetRef(obj, slotRight, pick())
		}
		if kids := w.rng.Intn(4); kids > 0 {
			if err := objects.ResizeContainer(obj, slotKids, uint32(kids)); err != nil {
				return 0, err
			}
			for k := 0; k < kids; k++ {
				objects.SetElemRef(obj, slotKids, uint32(k), 0, pick())
			}
		}
	}

	for _, obj := range fresh {
		switch w.rng.Intn(25) {
		case 0:
			objects.AddToRootSet(obj)
		case 1:
			objects.MarkPendingKill(obj)
		}
	}
	// Unroot a few old survivors so long chains eventually die.
	for i := 0; i < len(w.objs)/50; i++ {
		objects.RemoveFromRootSet(pick())
	}
	return len(fresh), nil
}

// naiveClosure computes the expected survivor set by plain BFS from the
// current roots, skipping edges into pending-kill targets.
func (w *soakWorld) naiveClosure() map[types.Index]bool {
	objects := w.collector.Objects()
	live := make(map[types.Index]bool)
	var queue []types.Index
	for _, obj := range w.objs {
		it := objects.Item(obj)
		if it.IsRootSet() && !it.IsPendingKill() {
			live[obj] = true
			queue = append(queue, obj)
		}
	}
	for len(queue) > 0 {
		obj := queue[0]
		queue = queue[1:]
		refs := []types.Index{
			objects.Ref(obj, slotLeft),
			objects.Ref(obj, slotRight),
		}
		for k := uint32(0); k < objects.ContainerLen(obj, slotKids); k++ {
			refs = append(refs, objects.ElemRef(obj, slotKids, k, 0))
		}
		for _, ref := range refs {
			if ref == types.InvalidIndex || live[ref] {
				continue
			}
			if objects.Item(ref).IsPendingKill() {
				continue
			}
			live[ref] = true
			queue = append(queue, ref)
		}
	}
	return live
}

// reconcile compares the heap against the expected survivor set and
// compacts the tracked object list.
func (w *soakWorld) reconcile(expected map[types.Index]bool) (int, error) {
	objects := w.collector.Objects()
	collected := 0
	survivors := w.objs[:0]
	for _, obj := range w.objs {
		alive := objects.IsValidRef(obj)
		if alive != expected[obj] {
			return 0, fmt.Errorf("object %d: collector says alive=%v, reference says %v",
				obj, alive, expected[obj])
		}
		if alive {
			survivors = append(survivors, obj)
		} else {
			collected++
		}
	}
	w.objs = survivors
	return collected, nil
}
