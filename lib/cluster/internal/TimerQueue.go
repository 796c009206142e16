package internal

import (
	"container/heap"
	"sort"
	"strconv"
)

// timer is an entry of the TimerQueue
type timer struct {
	CorrelationID int64
	Deadline      int64
	index         int // index in the heap, maintained by the heap package
}

func (t *timer) String() string {
	return "{CorrelationID: " + strconv.FormatInt(t.CorrelationID, 10) + ", Deadline: " + strconv.FormatInt(t.Deadline, 10) + "}"
}

// TimerQueue combines a min heap ordered by deadline (ties by correlation id) with a map for
// access by correlation id.
//
// Time complexity:
//   - O(log n) for Schedule, Cancel and PopDue
//   - O(1) for Contains and Deadline
//
// The queue is not thread-safe, it is owned by the state machine.
type TimerQueue struct {
	items    []*timer
	itemsMap map[int64]*timer
}

// NewTimerQueue creates an empty queue
func NewTimerQueue() *TimerQueue {
	return &TimerQueue{
		items:    make([]*timer, 0),
		itemsMap: make(map[int64]*timer),
	}
}

// Len returns the number of scheduled timers (part of heap.Interface)
func (q *TimerQueue) Len() int { return len(q.items) }

// Less orders by deadline, then by correlation id (part of heap.Interface)
func (q *TimerQueue) Less(i, j int) bool {
	if q.items[i].Deadline != q.items[j].Deadline {
		return q.items[i].Deadline < q.items[j].Deadline
	}
	return q.items[i].CorrelationID < q.items[j].CorrelationID
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (q *TimerQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface), use Schedule instead
func (q *TimerQueue) Push(x interface{}) {
	t := x.(*timer)
	t.index = len(q.items)
	q.items = append(q.items, t)
	q.itemsMap[t.CorrelationID] = t
}

// Pop removes the last item of the heap (part of heap.Interface), use PopDue instead
func (q *TimerQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // avoid memory leak
	t.index = -1
	q.items = old[:n-1]
	delete(q.itemsMap, t.CorrelationID)
	return t
}

// Schedule adds a timer or moves an existing timer with the same correlation id
func (q *TimerQueue) Schedule(correlationID, deadline int64) {
	if t, exists := q.itemsMap[correlationID]; exists {
		t.Deadline = deadline
		heap.Fix(q, t.index)
		return
	}
	heap.Push(q, &timer{CorrelationID: correlationID, Deadline: deadline})
}

// Cancel removes a timer, it returns false if no timer with the correlation id exists
func (q *TimerQueue) Cancel(correlationID int64) bool {
	t, exists := q.itemsMap[correlationID]
	if !exists {
		return false
	}
	heap.Remove(q, t.index)
	return true
}

// PopDue removes and returns the earliest timer if its deadline is not after now
func (q *TimerQueue) PopDue(now int64) (correlationID int64, deadline int64, ok bool) {
	if len(q.items) == 0 || q.items[0].Deadline > now {
		return 0, 0, false
	}
	t := heap.Pop(q).(*timer)
	return t.CorrelationID, t.Deadline, true
}

// Contains checks if a timer with the correlation id is scheduled
func (q *TimerQueue) Contains(correlationID int64) bool {
	_, exists := q.itemsMap[correlationID]
	return exists
}

// Deadline returns the deadline of a scheduled timer
func (q *TimerQueue) Deadline(correlationID int64) (int64, bool) {
	t, exists := q.itemsMap[correlationID]
	if !exists {
		return 0, false
	}
	return t.Deadline, true
}

// Sorted returns all timers as (correlation id, deadline) pairs ordered by correlation id
func (q *TimerQueue) Sorted() [][2]int64 {
	out := make([][2]int64, 0, len(q.items))
	for _, t := range q.items {
		out = append(out, [2]int64{t.CorrelationID, t.Deadline})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
