// Package evict implements the cache's capacity policy: dual-budget
// pressure tracking and adaptive LRU candidate selection. The policy is
// pure computation — callers own the actual removal of files and records,
// so selection can be exercised and tuned in isolation.
package evict

import (
	"container/heap"
	"math"

	"github.com/wolfeidau/objcache/metadata"
)

const (
	// DefaultMaxBytes is the default byte budget (500 MiB).
	DefaultMaxBytes = 500 * 1024 * 1024

	// DefaultMaxFiles is the default file-count budget.
	DefaultMaxFiles = 100

	// baseRatio is the fraction of entries removed by a pass at zero
	// pressure; pressureSlope scales it up as usage approaches the
	// tighter budget.
	baseRatio     = 0.10
	pressureSlope = 0.40
)

// Budgets carries the capacity limits a cache root operates under. A
// non-positive limit disables that axis.
type Budgets struct {
	MaxBytes int64
	MaxFiles int
}

// DefaultBudgets returns the standard limits.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxBytes: DefaultMaxBytes,
		MaxFiles: DefaultMaxFiles,
	}
}

// Pressure returns how close usage is to the tighter of the two budgets:
// 0 when empty, 1 at the limit, above 1 when over it.
func (b Budgets) Pressure(bytes int64, files int) float64 {
	var p float64
	if b.MaxBytes > 0 {
		p = float64(bytes) / float64(b.MaxBytes)
	}
	if b.MaxFiles > 0 {
		if fp := float64(files) / float64(b.MaxFiles); fp > p {
			p = fp
		}
	}
	return p
}

// Exceeded reports whether usage is over either budget.
func (b Budgets) Exceeded(bytes int64, files int) bool {
	if b.MaxBytes > 0 && bytes > b.MaxBytes {
		return true
	}
	return b.MaxFiles > 0 && files > b.MaxFiles
}

// WouldExceed reports whether admitting one more entry of the given size
// would push usage over either budget.
func (b Budgets) WouldExceed(bytes int64, files int, incoming int64) bool {
	if b.MaxBytes > 0 && bytes+incoming > b.MaxBytes {
		return true
	}
	return b.MaxFiles > 0 && files+1 > b.MaxFiles
}

// Plan describes one adaptive eviction pass.
type Plan struct {
	Pressure float64
	Ratio    float64
	K        int
}

// PlanPass sizes an eviction pass for n entries under the given usage.
// The ratio adapts to pressure so a nearly-full cache frees more in one
// go, and K is clamped to [1, n] so a pass always removes something when
// there is anything to remove.
func (b Budgets) PlanPass(bytes int64, files, n int) Plan {
	p := b.Pressure(bytes, files)
	ratio := baseRatio + pressureSlope*p
	k := int(math.Round(float64(n) * ratio))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return Plan{Pressure: p, Ratio: ratio, K: k}
}

// SelectOldest returns the k entries with the oldest last-access times in
// oldest-first order. Selection keeps a bounded max-heap of size k whose
// root is the newest kept candidate, so cost stays O(n log k) instead of
// sorting every entry.
func SelectOldest(entries []metadata.Entry, k int) []metadata.Entry {
	if k <= 0 || len(entries) == 0 {
		return nil
	}
	if k > len(entries) {
		k = len(entries)
	}

	h := make(ageHeap, 0, k+1)
	for _, e := range entries {
		heap.Push(&h, e)
		if h.Len() > k {
			heap.Pop(&h)
		}
	}

	// Popping yields newest first; fill the result back to front.
	out := make([]metadata.Entry, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(metadata.Entry)
	}
	return out
}

// ageHeap pops the entry with the newest LastAccessed first.
type ageHeap []metadata.Entry

func (h ageHeap) Len() int { return len(h) }

func (h ageHeap) Less(i, j int) bool {
	return h[i].LastAccessed.After(h[j].LastAccessed)
}

func (h ageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *ageHeap) Push(x any) {
	*h = append(*h, x.(metadata.Entry))
}

func (h *ageHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
