package sliceview

import (
	"math"
	"sort"

	"volview.dev/internal/geom"
)

// GeometryOracle resolves plane/chunk intersection and scale visibility.
// Injected into the engine so tests can substitute scripted geometry.
type GeometryOracle interface {
	// ForEachIntersectingChunk invokes visit once per chunk grid position
	// of ts whose volume intersects the current viewing plane, writing
	// the position into ts's scratch buffer first. No ordering guarantee,
	// no duplicates. A visit error aborts the enumeration and is
	// returned.
	ForEachIntersectingChunk(p *ProjectionParameters, localCenter geom.Vec3, ts *TransformedSource, visit func() error) error

	// VisibleSources selects the subset of candidate sources to fetch
	// for the given render scale target, coarsest scale first, relative
	// order within a scale preserved.
	VisibleSources(p *ProjectionParameters, renderScaleTarget float64, groups [][]*TransformedSource) []*TransformedSource
}

// PlaneGeometry is the production oracle: exact slab intersection of the
// viewing plane against each candidate chunk box, bounded by the clipped
// viewport rectangle.
type PlaneGeometry struct{}

func (PlaneGeometry) ForEachIntersectingChunk(p *ProjectionParameters, localCenter geom.Vec3, ts *TransformedSource, visit func() error) error {
	size := ts.Layout.Size
	for a := ts.Layout.FiniteRank; a < 3; a++ {
		size[a] = 0
	}

	normal := ts.Layout.LocalNormal(p.PlaneNormal)
	axisX := ts.Layout.LocalVector(p.PlaneAxisX).Scale(p.ViewportWidth / 2)
	axisY := ts.Layout.LocalVector(p.PlaneAxisY).Scale(p.ViewportHeight / 2)

	// Bounding box of the viewport rectangle in chunk layout space.
	lower := localCenter
	upper := localCenter
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			corner := localCenter.Add(axisX.Scale(sx)).Add(axisY.Scale(sy))
			lower = lower.Min(corner)
			upper = upper.Max(corner)
		}
	}
	lower = lower.Max(ts.LowerClipDisplayBound)
	upper = upper.Min(ts.UpperClipDisplayBound)

	var g0, g1 [3]int64
	for a := 0; a < 3; a++ {
		if size[a] <= 0 {
			g0[a] = ts.LowerChunkDisplayBound[a]
			g1[a] = g0[a]
			continue
		}
		if lower[a] > upper[a] {
			return nil
		}
		g0[a] = int64(math.Floor(lower[a] / size[a]))
		g1[a] = int64(math.Floor(upper[a] / size[a]))
		if g0[a] < ts.LowerChunkDisplayBound[a] {
			g0[a] = ts.LowerChunkDisplayBound[a]
		}
		if g1[a] > ts.UpperChunkDisplayBound[a]-1 {
			g1[a] = ts.UpperChunkDisplayBound[a] - 1
		}
		if g0[a] > g1[a] {
			return nil
		}
	}

	half := geom.Vec3{size[0] / 2, size[1] / 2, size[2] / 2}
	slab := math.Abs(normal[0])*half[0] + math.Abs(normal[1])*half[1] + math.Abs(normal[2])*half[2]

	for gz := g0[2]; gz <= g1[2]; gz++ {
		for gy := g0[1]; gy <= g1[1]; gy++ {
			for gx := g0[0]; gx <= g1[0]; gx++ {
				center := geom.Vec3{
					(float64(gx) + 0.5) * size[0],
					(float64(gy) + 0.5) * size[1],
					(float64(gz) + 0.5) * size[2],
				}
				if math.Abs(normal.Dot(center.Sub(localCenter))) > slab+1e-9 {
					continue
				}
				ts.SetDisplayGridPosition([3]int64{gx, gy, gz})
				if err := visit(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// VisibleSources keeps every scale group whose voxel size is at least the
// render scale target (no finer detail than the view can show), coarsest
// first. When no group is coarse enough the single coarsest group is kept
// so the view is never starved. Sources with empty display bounds are
// dropped; an empty candidate set yields an empty subset.
func (PlaneGeometry) VisibleSources(p *ProjectionParameters, renderScaleTarget float64, groups [][]*TransformedSource) []*TransformedSource {
	type scored struct {
		index int
		voxel float64
	}
	var candidates []scored
	for i, group := range groups {
		if len(group) == 0 {
			continue
		}
		candidates = append(candidates, scored{index: i, voxel: groupVoxelSize(group)})
	}
	if len(candidates) == 0 {
		return nil
	}

	selected := candidates[:0]
	for _, c := range candidates {
		if c.voxel >= renderScaleTarget {
			selected = append(selected, c)
		}
	}
	if len(selected) == 0 {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.voxel > best.voxel {
				best = c
			}
		}
		selected = append(selected, best)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].voxel > selected[j].voxel
	})

	var out []*TransformedSource
	for _, c := range selected {
		for _, ts := range groups[c.index] {
			if sourceClippedAway(ts) {
				continue
			}
			out = append(out, ts)
		}
	}
	return out
}

func groupVoxelSize(group []*TransformedSource) float64 {
	v := group[0].EffectiveVoxelSize
	max := 0.0
	for a := 0; a < group[0].Layout.FiniteRank; a++ {
		if v[a] > max {
			max = v[a]
		}
	}
	return max
}

func sourceClippedAway(ts *TransformedSource) bool {
	for a := 0; a < ts.Layout.FiniteRank; a++ {
		if ts.LowerChunkDisplayBound[a] >= ts.UpperChunkDisplayBound[a] {
			return true
		}
	}
	return false
}
