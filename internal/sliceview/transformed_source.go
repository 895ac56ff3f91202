package sliceview

import (
	"fmt"
	"math"

	"volview.dev/internal/geom"
)

// TransformedSource binds one (source, scale) into a layer's view-space
// geometry. The geometric fields are immutable after construction; the
// two position buffers are scratch space overwritten on every enumeration
// pass and must never be aliased across passes.
type TransformedSource struct {
	Source *ChunkSource

	// Layout places this source's chunk grid in display space.
	Layout geom.ChunkLayout

	// LayerRank is the dimensionality of the owning layer's coordinate
	// space; grid positions passed to Source.GetChunk have this rank.
	LayerRank int

	// Clip bounds over all layer dimensions, in layer voxels.
	LowerClipBound []float64
	UpperClipBound []float64

	// Clip bounds restricted to the displayed axes, in chunk layout units
	// (LowerChunkDisplayBound inclusive, UpperChunkDisplayBound exclusive,
	// in units of whole chunks).
	LowerClipDisplayBound  geom.Vec3
	UpperClipDisplayBound  geom.Vec3
	LowerChunkDisplayBound [3]int64
	UpperChunkDisplayBound [3]int64

	// EffectiveVoxelSize is the display-space size of one voxel of this
	// scale, used for render-scale selection.
	EffectiveVoxelSize geom.Vec3

	// ChunkDisplayDims maps each display axis to the chunk dimension it
	// shows, or -1 when the axis is unused by this source.
	ChunkDisplayDims [3]int

	// FixedLayerToChunkTransform maps layer-local coordinates to chunk
	// voxel coordinates for the non-displayed dimensions: a row-major
	// (LayerRank+1)^2 homogeneous matrix.
	FixedLayerToChunkTransform []float64

	// curPositionInChunks is the scratch grid position written during
	// enumeration; its non-displayed entries are fixed by
	// UpdateFixedCoordinates. fixedPositionWithinChunk holds the voxel
	// offset inside that chunk along non-displayed dimensions.
	curPositionInChunks      []int64
	fixedPositionWithinChunk []int64

	disposed bool
}

// NewTransformedSource wires a transformed source to its chunk source,
// taking one reference on the underlying cache.
func NewTransformedSource(src *ChunkSource, layout geom.ChunkLayout, layerRank int) (*TransformedSource, error) {
	if src == nil {
		return nil, fmt.Errorf("transformed source: nil chunk source")
	}
	if layerRank <= 0 {
		return nil, fmt.Errorf("transformed source: layer rank %d", layerRank)
	}
	ts := &TransformedSource{
		Source:                   src,
		Layout:                   layout,
		LayerRank:                layerRank,
		LowerClipBound:           make([]float64, layerRank),
		UpperClipBound:           make([]float64, layerRank),
		ChunkDisplayDims:         [3]int{-1, -1, -1},
		curPositionInChunks:      make([]int64, layerRank),
		fixedPositionWithinChunk: make([]int64, layerRank),
	}
	for i := range ts.UpperClipBound {
		ts.UpperClipBound[i] = math.Inf(1)
		ts.LowerClipBound[i] = math.Inf(-1)
	}
	src.AddRef()
	return ts, nil
}

// CurPositionInChunks exposes the scratch grid position buffer. Valid only
// inside the enumeration callback that populated it.
func (ts *TransformedSource) CurPositionInChunks() []int64 {
	return ts.curPositionInChunks
}

// SetDisplayGridPosition writes the displayed-axis grid coordinates into
// the scratch position buffer via the display dimension mapping.
func (ts *TransformedSource) SetDisplayGridPosition(g [3]int64) {
	for a, d := range ts.ChunkDisplayDims {
		if d >= 0 {
			ts.curPositionInChunks[d] = g[a]
		}
	}
}

// DisplayGridPosition reads back the displayed-axis grid coordinates from
// the scratch position buffer.
func (ts *TransformedSource) DisplayGridPosition() [3]int64 {
	var g [3]int64
	for a, d := range ts.ChunkDisplayDims {
		if d >= 0 {
			g[a] = ts.curPositionInChunks[d]
		}
	}
	return g
}

// UpdateFixedCoordinates recomputes the non-displayed entries of the
// scratch buffers from the layer's local position, applying the fixed
// layer-to-chunk transform.
func (ts *TransformedSource) UpdateFixedCoordinates(localPosition []float64) {
	rank := ts.LayerRank
	if len(ts.FixedLayerToChunkTransform) != (rank+1)*(rank+1) {
		return
	}
	isDisplay := make([]bool, rank)
	for _, d := range ts.ChunkDisplayDims {
		if d >= 0 && d < rank {
			isDisplay[d] = true
		}
	}
	for d := 0; d < rank; d++ {
		if isDisplay[d] {
			continue
		}
		row := ts.FixedLayerToChunkTransform[d*(rank+1) : (d+1)*(rank+1)]
		x := row[rank]
		for j := 0; j < rank && j < len(localPosition); j++ {
			x += row[j] * localPosition[j]
		}
		voxel := int64(math.Floor(x))
		size := int64(1)
		if d < len(ts.Source.Spec.ChunkShape) {
			size = ts.Source.Spec.ChunkShape[d]
		}
		grid := geom.FloorDiv(voxel, size)
		ts.curPositionInChunks[d] = grid
		ts.fixedPositionWithinChunk[d] = voxel - grid*size
	}
}

// Dispose releases the reference on the underlying chunk source and
// reports whether that cache reached zero references.
func (ts *TransformedSource) Dispose() bool {
	if ts.disposed {
		return false
	}
	ts.disposed = true
	return ts.Source.Release()
}

// Disposed reports whether Dispose has run.
func (ts *TransformedSource) Disposed() bool {
	return ts.disposed
}
