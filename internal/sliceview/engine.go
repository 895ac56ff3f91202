package sliceview

import (
	"log"

	"volview.dev/internal/geom"
)

// ChunkRequester is the scheduler-side capability the engine submits
// scored requests into.
type ChunkRequester interface {
	// RequestChunk records one fetch request at the given tier and
	// score. Larger scores are fetched first within a tier.
	RequestChunk(c *Chunk, tier PriorityTier, score float64)

	// ScheduleUpdatePriorities asks for a future recomputation pass. The
	// call must coalesce and must not re-enter the engine synchronously.
	ScheduleUpdatePriorities()
}

// SliceView holds the per-view visibility state and recomputes chunk
// fetch priorities whenever the view or the visible layer set changes.
// All methods run on the owning worker goroutine.
type SliceView struct {
	projection ProjectionParameters

	layers     map[*Layer]*visibleLayerInfo
	layerOrder []*Layer

	geometry  GeometryOracle
	requester ChunkRequester
	logger    *log.Logger

	updateScheduled bool
	updating        bool
	disposed        bool
}

func New(geometry GeometryOracle, requester ChunkRequester, logger *log.Logger) *SliceView {
	return &SliceView{
		projection: DefaultProjection(),
		layers:     map[*Layer]*visibleLayerInfo{},
		geometry:   geometry,
		requester:  requester,
		logger:     logger,
	}
}

// Projection returns the current projection snapshot.
func (v *SliceView) Projection() ProjectionParameters {
	return v.projection
}

// SetProjection installs a new view snapshot and invalidates visibility.
func (v *SliceView) SetProjection(p ProjectionParameters) {
	v.projection = p
	v.invalidateVisibility()
}

// invalidateVisibility schedules one future recomputation. Coalesced
// through the scheduled flag so listener cascades never re-enter an
// in-progress pass.
func (v *SliceView) invalidateVisibility() {
	if v.disposed || v.updateScheduled {
		return
	}
	v.updateScheduled = true
	if v.requester != nil {
		v.requester.ScheduleUpdatePriorities()
	}
}

// UpdateVisibleChunks runs one full visibility-and-priority pass: select
// visible sources per layer, enumerate plane-intersecting chunks, and
// submit one scored request per chunk. The pass runs to completion
// synchronously against the current projection snapshot; any enumeration
// error aborts it and propagates.
func (v *SliceView) UpdateVisibleChunks() error {
	v.updateScheduled = false
	if v.updating {
		// Re-entry is a controller bug; refuse rather than interleave.
		return errReentrantUpdate
	}
	v.updating = true
	defer func() { v.updating = false }()

	weight := v.projection.VisibilityWeight
	if weight == VisibilityIgnored() {
		return nil
	}

	v.updateVisibleSources()

	tier := TierForVisibility(weight)
	base := BasePriorityForVisibility(weight) + requestBasePriority

	for _, layer := range v.layerOrder {
		info := v.layers[layer]
		for i, ts := range info.visibleSources {
			localCenter := ts.Layout.LocalPoint(v.projection.GlobalPosition)
			chunkSize := ts.Layout.Size
			for a := ts.Layout.FiniteRank; a < 3; a++ {
				localCenter[a] = 0
				chunkSize[a] = 0
			}
			sourceBase := base + scalePriorityStride*float64(i)

			err := v.geometry.ForEachIntersectingChunk(&v.projection, localCenter, ts, func() error {
				g := ts.DisplayGridPosition()
				chunkCenter := geom.Vec3{
					float64(g[0]) * chunkSize[0],
					float64(g[1]) * chunkSize[1],
					float64(g[2]) * chunkSize[2],
				}
				score := sourceBase - localCenter.Dist(chunkCenter)
				chunk := ts.Source.GetChunk(ts.CurPositionInChunks())
				v.requester.RequestChunk(chunk, tier, score)
				return nil
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// updateVisibleSources refreshes each layer's visible subset when its
// record is stale against the current projection or its source set
// changed.
func (v *SliceView) updateVisibleSources() {
	gen := v.projection.Display.Generation
	for _, layer := range v.layerOrder {
		info := v.layers[layer]
		if !info.sourcesChanged && info.displayGeneration == gen {
			continue
		}
		info.visibleSources = v.geometry.VisibleSources(&v.projection, layer.RenderScaleTarget(), info.allSources)
		for _, ts := range info.visibleSources {
			ts.UpdateFixedCoordinates(layer.LocalPosition())
		}
		info.displayGeneration = gen
		info.sourcesChanged = false
	}
}

// VisibleSourceCount reports the size of a layer's current visible
// subset, -1 for an unknown layer.
func (v *SliceView) VisibleSourceCount(layer *Layer) int {
	info := v.layers[layer]
	if info == nil {
		return -1
	}
	return len(info.visibleSources)
}
