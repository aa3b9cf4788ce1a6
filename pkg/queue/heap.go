package queue

import (
	"container/heap"

	"github.com/streamhub/core/pkg/model"
)

// itemHeap orders CommandItems by priority descending, then
// ScheduledNotBefore ascending, then SubmittedAt ascending — the tie
// break spec §4.3 requires so a single pattern execution's steps stay in
// relative order even under clock skew.
type itemHeap []*model.CommandItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledNotBefore.Equal(b.ScheduledNotBefore) {
		return a.ScheduledNotBefore.Before(b.ScheduledNotBefore)
	}
	return a.SubmittedAt.Before(b.SubmittedAt)
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*model.CommandItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*itemHeap)(nil)
