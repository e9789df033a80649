package forest

import (
	"container/heap"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/annbench/dataset"
	"github.com/hupe1980/annbench/distance"
	"github.com/hupe1980/annbench/engine"
	"github.com/hupe1980/annbench/exact"
	"github.com/hupe1980/annbench/scenario"
)

// node is one tree node. Fields are exported for gob segment encoding.
type node struct {
	// Items is set on leaves only.
	Items []uint32

	// Normal and Offset define the splitting hyperplane of an internal
	// node: points with dot(Normal, v) >= Offset go right.
	Normal []float32
	Offset float32

	Left  *node
	Right *node
}

func (n *node) leaf() bool { return n.Left == nil && n.Right == nil }

type tree struct {
	Root *node
}

// buildTree recursively splits the point set with random hyperplanes. A
// split hyperplane is the perpendicular bisector of two randomly chosen
// points; degenerate splits (identical picks, one-sided partitions) stop
// the recursion early.
func buildTree(points []dataset.Point, leafSize int, rng *rand.Rand) *tree {
	slots := make([]int, len(points))
	for i := range slots {
		slots[i] = i
	}
	return &tree{Root: splitNode(points, slots, leafSize, rng)}
}

func splitNode(points []dataset.Point, slots []int, leafSize int, rng *rand.Rand) *node {
	if len(slots) <= leafSize {
		return leafNode(points, slots)
	}

	normal, offset, ok := pickHyperplane(points, slots, rng)
	if !ok {
		return leafNode(points, slots)
	}

	var left, right []int
	for _, slot := range slots {
		if distance.Dot(normal, points[slot].Vector) >= offset {
			right = append(right, slot)
		} else {
			left = append(left, slot)
		}
	}

	if len(left) == 0 || len(right) == 0 {
		return leafNode(points, slots)
	}

	return &node{
		Normal: normal,
		Offset: offset,
		Left:   splitNode(points, left, leafSize, rng),
		Right:  splitNode(points, right, leafSize, rng),
	}
}

func leafNode(points []dataset.Point, slots []int) *node {
	items := make([]uint32, len(slots))
	for i, slot := range slots {
		items[i] = points[slot].ID
	}
	return &node{Items: items}
}

// pickHyperplane draws two distinct points and returns the perpendicular
// bisector of the segment between them.
func pickHyperplane(points []dataset.Point, slots []int, rng *rand.Rand) (normal []float32, offset float32, ok bool) {
	const attempts = 3

	for range attempts {
		a := points[slots[rng.Intn(len(slots))]].Vector
		b := points[slots[rng.Intn(len(slots))]].Vector

		normal = make([]float32, len(a))
		var norm2 float32
		for i := range normal {
			normal[i] = a[i] - b[i]
			norm2 += normal[i] * normal[i]
		}
		if norm2 == 0 {
			continue // identical picks
		}

		offset = 0
		for i := range normal {
			offset += normal[i] * (a[i] + b[i]) / 2
		}
		return normal, offset, true
	}

	return nil, 0, false
}

// searchForest pools leaf items from all trees best-first until the
// candidate budget is reached, then ranks the pool exactly.
func searchForest(s *session, query []float32, k, oversampling int, candidates *scenario.CandidateSet) []engine.Match {
	budget := k * oversampling * len(s.trees)
	if budget < k {
		budget = k
	}

	h := make(nodeHeap, 0, len(s.trees))
	for _, t := range s.trees {
		h = append(h, searchItem{priority: math.MaxFloat32, node: t.Root})
	}
	heap.Init(&h)

	seen := roaring.New()
	pool := make([]uint32, 0, budget)

	for h.Len() > 0 && len(pool) < budget {
		item := heap.Pop(&h).(searchItem)
		n := item.node

		if n.leaf() {
			for _, id := range n.Items {
				if candidates != nil && !candidates.Contains(id) {
					continue
				}
				if seen.CheckedAdd(id) {
					pool = append(pool, id)
				}
			}
			continue
		}

		// The margin is the signed distance to the splitting hyperplane;
		// the far side inherits a capped priority so it is revisited only
		// when the near sides run dry.
		margin := distance.Dot(n.Normal, query) - n.Offset
		heap.Push(&h, searchItem{priority: min(item.priority, margin), node: n.Right})
		heap.Push(&h, searchItem{priority: min(item.priority, -margin), node: n.Left})
	}

	poolPoints := func(yield func(dataset.Point) bool) {
		for _, id := range pool {
			if !yield(s.points[s.byID[id]]) {
				return
			}
		}
	}

	neighbors := exact.TopK(query, poolPoints, k, s.dist)

	matches := make([]engine.Match, len(neighbors))
	for i, n := range neighbors {
		matches[i] = engine.Match{ID: n.ID, Distance: n.Distance}
	}
	return matches
}

type searchItem struct {
	priority float32
	node     *node
}

type nodeHeap []searchItem

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].priority > h[j].priority }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)         { *h = append(*h, x.(searchItem)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func atomicInc(v *uint64) uint64 {
	return atomic.AddUint64(v, 1)
}
