// Package fetch is the chunk scheduler: it consumes the scored requests
// the slice-view engine emits, fetches payloads from the store with a
// bounded worker pool in priority order, and evicts the lowest-priority
// resident chunks when over capacity.
package fetch

import (
	"container/heap"
	"errors"
	"log"
	"sync"

	"volview.dev/internal/sliceview"
	"volview.dev/internal/store"
)

type request struct {
	chunk *sliceview.Chunk
	tier  sliceview.PriorityTier
	score float64
	index int
}

// requestHeap orders by tier first (lower tier is more urgent), then by
// score descending.
type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].tier != h[j].tier {
		return h[i].tier < h[j].tier
	}
	return h[i].score > h[j].score
}
func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *requestHeap) Push(x any) {
	r := x.(*request)
	r.index = len(*h)
	*h = append(*h, r)
}
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}

// Scheduler implements sliceview.ChunkRequester. RequestChunk runs on the
// worker loop goroutine; the fetch pool runs concurrently and touches
// only chunk payload state, never source caches. Cache eviction is
// decided here but applied by the worker loop via ApplyEvictions.
type Scheduler struct {
	st     *store.Store
	logger *log.Logger

	// notify asks the worker loop to run another priority pass; it must
	// be safe to call from any goroutine and must coalesce.
	notify func()

	capacity int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    requestHeap
	queued   map[*sliceview.Chunk]*request
	inflight map[*sliceview.Chunk]struct{}
	resident map[*sliceview.Chunk]float64
	evict    []*sliceview.Chunk
	closed   bool

	wg sync.WaitGroup
}

// New starts a scheduler with the given fetch concurrency and resident
// chunk capacity.
func New(st *store.Store, workers, capacity int, notify func(), logger *log.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1024
	}
	s := &Scheduler{
		st:       st,
		logger:   logger,
		notify:   notify,
		capacity: capacity,
		queued:   map[*sliceview.Chunk]*request{},
		inflight: map[*sliceview.Chunk]struct{}{},
		resident: map[*sliceview.Chunk]float64{},
	}
	s.cond = sync.NewCond(&s.mu)
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// Close stops the fetch pool and waits for in-flight fetches.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

// BeginPass discards requests queued by the previous pass that nothing
// has started fetching yet. The new pass re-submits whatever is still
// visible, so stale requests never outlive one recomputation.
func (s *Scheduler) BeginPass() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.queue {
		delete(s.queued, r.chunk)
	}
	s.queue = s.queue[:0]
}

// RequestChunk queues one scored fetch request, raising the priority of
// an already queued chunk in place. Downloaded chunks just refresh their
// eviction score.
func (s *Scheduler) RequestChunk(c *sliceview.Chunk, tier sliceview.PriorityTier, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if c.State() == sliceview.StateDownloaded {
		s.resident[c] = score
		return
	}
	if _, ok := s.inflight[c]; ok {
		return
	}
	if r, ok := s.queued[c]; ok {
		if tier < r.tier || (tier == r.tier && score > r.score) {
			r.tier = tier
			r.score = score
			heap.Fix(&s.queue, r.index)
		}
		return
	}
	r := &request{chunk: c, tier: tier, score: score}
	s.queued[c] = r
	heap.Push(&s.queue, r)
	c.SetQueued()
	s.cond.Signal()
}

// ScheduleUpdatePriorities forwards the engine's debounced recomputation
// request to the worker loop.
func (s *Scheduler) ScheduleUpdatePriorities() {
	if s.notify != nil {
		s.notify()
	}
}

// ApplyEvictions runs pending cache deletions on the caller's goroutine.
// Must be the worker loop: it is the only goroutine allowed to mutate
// source caches.
func (s *Scheduler) ApplyEvictions() {
	s.mu.Lock()
	pending := s.evict
	s.evict = nil
	s.mu.Unlock()
	for _, c := range pending {
		c.Source.DeleteChunk(c)
	}
}

// ResidentCount reports how many downloaded chunks are tracked.
func (s *Scheduler) ResidentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resident)
}

// QueuedCount reports how many requests await fetching.
func (s *Scheduler) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		r := heap.Pop(&s.queue).(*request)
		delete(s.queued, r.chunk)
		s.inflight[r.chunk] = struct{}{}
		s.mu.Unlock()

		s.fetch(r)

		s.mu.Lock()
		delete(s.inflight, r.chunk)
		if r.chunk.State() == sliceview.StateDownloaded {
			s.resident[r.chunk] = r.score
			s.evictOverCapacityLocked()
		}
		s.mu.Unlock()

		if s.notify != nil {
			s.notify()
		}
	}
}

func (s *Scheduler) fetch(r *request) {
	spec := r.chunk.Source.Spec
	data, err := s.st.ReadChunk(spec.Volume, spec.ScaleKey, r.chunk.Key)
	miss := errors.Is(err, store.ErrChunkNotFound)
	if err != nil && !miss {
		r.chunk.SetFailed()
		if s.logger != nil {
			s.logger.Printf("fetch %s/%s/%s: %v", spec.Volume, spec.ScaleKey, r.chunk.Key, err)
		}
		return
	}
	if recErr := s.st.Index().RecordFetch(spec.Volume, spec.ScaleKey, miss); recErr != nil && s.logger != nil {
		s.logger.Printf("record fetch %s/%s: %v", spec.Volume, spec.ScaleKey, recErr)
	}
	// A miss materializes as an empty payload: the position is valid but
	// nothing was ever written there.
	r.chunk.SetDownloaded(data)
}

// evictOverCapacityLocked queues the lowest-score resident chunks for
// deletion until the resident set fits capacity.
func (s *Scheduler) evictOverCapacityLocked() {
	for len(s.resident) > s.capacity {
		var victim *sliceview.Chunk
		worst := 0.0
		first := true
		for c, score := range s.resident {
			if first || score < worst {
				victim = c
				worst = score
				first = false
			}
		}
		if victim == nil {
			return
		}
		delete(s.resident, victim)
		s.evict = append(s.evict, victim)
	}
}
