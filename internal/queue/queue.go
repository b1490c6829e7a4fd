package queue

import (
	"container/heap"
	"sync"
)

// Item is a single item in the priority queue
type Item[T any] struct {
	Value    T
	Priority int
	seq      uint64
	index    int
}

// priorityQueueHeap implements heap.Interface
type priorityQueueHeap[T any] []*Item[T]

func (pqh priorityQueueHeap[T]) Len() int {
	return len(pqh)
}

// Less orders by priority (lower values first), then by insertion order
func (pqh priorityQueueHeap[T]) Less(i, j int) bool {
	if pqh[i].Priority != pqh[j].Priority {
		return pqh[i].Priority < pqh[j].Priority
	}
	return pqh[i].seq < pqh[j].seq
}

func (pqh priorityQueueHeap[T]) Swap(i, j int) {
	pqh[i], pqh[j] = pqh[j], pqh[i]
	pqh[i].index = i
	pqh[j].index = j
}

func (pqh *priorityQueueHeap[T]) Push(x any) {
	n := len(*pqh)
	item := x.(*Item[T])
	item.index = n
	*pqh = append(*pqh, item)
}

func (pqh *priorityQueueHeap[T]) Pop() any {
	old := *pqh
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pqh = old[0 : n-1]
	return item
}

// PriorityQueue is a thread-safe generic priority queue.
// Items with equal priority are dequeued in the order they were enqueued.
type PriorityQueue[T any] struct {
	heap priorityQueueHeap[T]
	next uint64
	mu   sync.Mutex
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{
		heap: make(priorityQueueHeap[T], 0),
	}
	heap.Init(&pq.heap)
	return pq
}

func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.heap.Len()
}

// Enqueue adds a value to the priority queue with the given priority
func (pq *PriorityQueue[T]) Enqueue(value T, priority int) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	pq.next++
	heap.Push(&pq.heap, &Item[T]{
		Value:    value,
		Priority: priority,
		seq:      pq.next,
	})
}

// Dequeue removes and returns the highest priority item from the queue
func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.heap.Len() == 0 {
		var zero T
		return zero, false
	}

	item := heap.Pop(&pq.heap).(*Item[T])
	return item.Value, true
}

// Drain removes every item, highest priority first
func (pq *PriorityQueue[T]) Drain() []T {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	items := make([]T, 0, pq.heap.Len())
	for pq.heap.Len() > 0 {
		item := heap.Pop(&pq.heap).(*Item[T])
		items = append(items, item.Value)
	}
	return items
}
