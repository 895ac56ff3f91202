package sliceview

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// ChunkState tracks payload availability. The fetch pool moves a chunk to
// StateDownloaded after storing its data; everything else runs on the
// worker loop goroutine.
type ChunkState int32

const (
	StateNew ChunkState = iota
	StateQueued
	StateDownloaded
	StateFailed
)

// Chunk is one cached unit of volumetric data: a single grid position of
// one (source, scale).
type Chunk struct {
	Key          string
	GridPosition []int64
	Source       *ChunkSource

	state atomic.Int32
	data  atomic.Pointer[[]byte]
}

func (c *Chunk) State() ChunkState {
	return ChunkState(c.state.Load())
}

func (c *Chunk) SetQueued() {
	c.state.CompareAndSwap(int32(StateNew), int32(StateQueued))
}

// SetDownloaded publishes the payload. The data slice must not be mutated
// afterwards.
func (c *Chunk) SetDownloaded(data []byte) {
	c.data.Store(&data)
	c.state.Store(int32(StateDownloaded))
}

func (c *Chunk) SetFailed() {
	c.state.Store(int32(StateFailed))
}

// Data returns the downloaded payload, or nil before download completes.
func (c *Chunk) Data() []byte {
	p := c.data.Load()
	if p == nil {
		return nil
	}
	return *p
}

// ChunkSourceSpec is the immutable description of one scale of one data
// source.
type ChunkSourceSpec struct {
	// Rank is the dimensionality of grid positions for this source.
	Rank int

	// ChunkShape is the chunk extent in voxels along each of the Rank
	// dimensions.
	ChunkShape []int64

	// Volume and ScaleKey identify the backing data for fetching.
	Volume   string
	ScaleKey string
}

func (s ChunkSourceSpec) Validate() error {
	if s.Rank <= 0 {
		return fmt.Errorf("chunk source spec: rank %d", s.Rank)
	}
	if len(s.ChunkShape) != s.Rank {
		return fmt.Errorf("chunk source spec: chunk shape has %d entries, rank %d", len(s.ChunkShape), s.Rank)
	}
	for i, v := range s.ChunkShape {
		if v <= 0 {
			return fmt.Errorf("chunk source spec: chunk shape[%d] = %d", i, v)
		}
	}
	return nil
}

// ChunkSource owns the chunk cache for one (source, scale) pair. It is
// shared read-only across every layer that references the same scale and
// reference counted: each TransformedSource holds one reference.
//
// The source never evicts on its own; the fetch scheduler calls
// DeleteChunk when it decides to drop a resident chunk.
type ChunkSource struct {
	ID   uint64
	Spec ChunkSourceSpec

	chunks   map[string]*Chunk
	refCount int
}

func NewChunkSource(id uint64, spec ChunkSourceSpec) *ChunkSource {
	return &ChunkSource{
		ID:     id,
		Spec:   spec,
		chunks: map[string]*Chunk{},
	}
}

// GridKey serializes a grid position into the cache key: coordinates
// joined with commas. Total and collision free over positions of one
// rank.
func GridKey(pos []int64) string {
	var b strings.Builder
	for i, v := range pos {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	return b.String()
}

// GetChunk returns the cached chunk for the given grid position, creating
// and registering it on first request. The position buffer is copied; the
// caller may reuse it.
func (s *ChunkSource) GetChunk(gridPosition []int64) *Chunk {
	key := GridKey(gridPosition)
	if c := s.chunks[key]; c != nil {
		return c
	}
	pos := make([]int64, len(gridPosition))
	copy(pos, gridPosition)
	c := &Chunk{Key: key, GridPosition: pos, Source: s}
	s.chunks[key] = c
	return c
}

// DeleteChunk removes an evicted chunk from the cache. Eviction policy
// belongs to the fetch scheduler.
func (s *ChunkSource) DeleteChunk(c *Chunk) {
	delete(s.chunks, c.Key)
}

// ChunkCount reports the number of cached chunks.
func (s *ChunkSource) ChunkCount() int {
	return len(s.chunks)
}

// AddRef records one more transformed source referencing this cache.
func (s *ChunkSource) AddRef() {
	s.refCount++
}

// Release drops one reference. When the count reaches zero the cache is
// torn down and true is returned so the owner can unregister the source.
func (s *ChunkSource) Release() bool {
	s.refCount--
	if s.refCount > 0 {
		return false
	}
	s.chunks = map[string]*Chunk{}
	return true
}

// RefCount reports the current reference count.
func (s *ChunkSource) RefCount() int {
	return s.refCount
}
