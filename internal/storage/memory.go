package storage

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryStore keeps pending entries in a min-heap keyed by (ScheduledAt, MessageID),
// so SelectDue only touches the due prefix instead of scanning everything.
// Forwarded entries leave the heap but stay in byID until removed.
type memoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	byID   map[int64]*memItem
	due    dueHeap
	closed bool
}

type memItem struct {
	e   Entry
	idx int // heap index, -1 when not in the heap
}

func openMemory(cfg Config) *memoryStore {
	return &memoryStore{now: cfg.clock(), byID: map[int64]*memItem{}}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Insert(ctx context.Context, messageID int64, scheduledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.byID[messageID]; ok {
		return fmt.Errorf("insert %d: %w", messageID, ErrDuplicateKey)
	}
	// Match sqlite's millisecond resolution so both drivers agree on boundaries.
	it := &memItem{e: Entry{
		MessageID:   messageID,
		Status:      StatusPending,
		ScheduledAt: time.UnixMilli(scheduledAt.UnixMilli()),
		CreatedAt:   time.UnixMilli(s.now().UnixMilli()),
	}}
	s.byID[messageID] = it
	heap.Push(&s.due, it)
	return nil
}

func (s *memoryStore) SelectDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	cut := now.UnixMilli()
	popped := make([]*memItem, 0, limit)
	for len(popped) < limit && s.due.Len() > 0 && s.due[0].e.ScheduledAt.UnixMilli() <= cut {
		popped = append(popped, heap.Pop(&s.due).(*memItem))
	}
	out := make([]Entry, 0, len(popped))
	for _, it := range popped {
		out = append(out, copyEntry(it.e))
		heap.Push(&s.due, it)
	}
	return out, nil
}

func (s *memoryStore) MarkForwarded(ctx context.Context, messageID, targetMessageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	it, ok := s.byID[messageID]
	if !ok {
		return nil
	}
	it.e.Status = StatusForwarded
	t := targetMessageID
	it.e.TargetMessageID = &t
	if it.idx >= 0 {
		heap.Remove(&s.due, it.idx)
	}
	return nil
}

func (s *memoryStore) Remove(ctx context.Context, messageID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	it, ok := s.byID[messageID]
	if !ok {
		return false, nil
	}
	s.dropLocked(it)
	return true, nil
}

func (s *memoryStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	cut := cutoff.UnixMilli()
	var n int64
	for _, it := range s.byID {
		if it.e.CreatedAt.UnixMilli() <= cut {
			s.dropLocked(it)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Get(ctx context.Context, messageID int64) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, false, ErrClosed
	}
	it, ok := s.byID[messageID]
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(it.e), true, nil
}

func (s *memoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Stats{}, ErrClosed
	}
	var st Stats
	for _, it := range s.byID {
		switch it.e.Status {
		case StatusPending:
			st.Pending++
		case StatusForwarded:
			st.Forwarded++
		}
		if st.OldestCreatedAt.IsZero() || it.e.CreatedAt.Before(st.OldestCreatedAt) {
			st.OldestCreatedAt = it.e.CreatedAt
		}
	}
	if s.due.Len() > 0 {
		st.NextDueAt = s.due[0].e.ScheduledAt
	}
	return st, nil
}

func (s *memoryStore) dropLocked(it *memItem) {
	if it.idx >= 0 {
		heap.Remove(&s.due, it.idx)
	}
	delete(s.byID, it.e.MessageID)
}

func copyEntry(e Entry) Entry {
	if e.TargetMessageID != nil {
		v := *e.TargetMessageID
		e.TargetMessageID = &v
	}
	return e
}

// dueHeap implements heap.Interface.
type dueHeap []*memItem

func (h dueHeap) Len() int { return len(h) }

func (h dueHeap) Less(i, j int) bool {
	a, b := h[i].e, h[j].e
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.MessageID < b.MessageID
}

func (h dueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}

func (h *dueHeap) Push(x any) {
	it := x.(*memItem)
	it.idx = len(*h)
	*h = append(*h, it)
}

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.idx = -1
	*h = old[:n-1]
	return it
}
