package sliceview

import (
	"math"
	"sort"
	"testing"

	"volview.dev/internal/geom"
)

func TestForEachIntersectingChunk_axisAlignedSlice(t *testing.T) {
	ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	ts.LowerChunkDisplayBound = [3]int64{0, 0, 0}
	ts.UpperChunkDisplayBound = [3]int64{3, 2, 1}
	ts.LowerClipDisplayBound = geom.Vec3{0, 0, 0}
	ts.UpperClipDisplayBound = geom.Vec3{30, 20, 0}

	p := visibleProjection(1)
	p.GlobalPosition = geom.Vec3{25, 15, 0}
	p.ViewportWidth = 20
	p.ViewportHeight = 20

	var got []string
	err := PlaneGeometry{}.ForEachIntersectingChunk(&p, geom.Vec3{25, 15, 0}, ts, func() error {
		got = append(got, GridKey(ts.CurPositionInChunks()))
		return nil
	})
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	sort.Strings(got)
	want := []string{"1,0", "1,1", "2,0", "2,1"}
	if len(got) != len(want) {
		t.Fatalf("positions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("positions = %v, want %v", got, want)
		}
	}
}

func TestForEachIntersectingChunk_respectsChunkBounds(t *testing.T) {
	ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	ts.LowerChunkDisplayBound = [3]int64{0, 0, 0}
	ts.UpperChunkDisplayBound = [3]int64{1, 1, 1}
	ts.LowerClipDisplayBound = geom.Vec3{0, 0, 0}
	ts.UpperClipDisplayBound = geom.Vec3{10, 10, 0}

	p := visibleProjection(1)
	p.ViewportWidth = 1000
	p.ViewportHeight = 1000
	p.GlobalPosition = geom.Vec3{5, 5, 0}

	var count int
	err := PlaneGeometry{}.ForEachIntersectingChunk(&p, geom.Vec3{5, 5, 0}, ts, func() error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if count != 1 {
		t.Fatalf("visited %d chunks, want 1 within bounds", count)
	}
}

func TestForEachIntersectingChunk_planeMisses(t *testing.T) {
	// A 3D source sliced by an XY plane far outside its z extent.
	ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 10}, 3)
	ts.LowerChunkDisplayBound = [3]int64{0, 0, 0}
	ts.UpperChunkDisplayBound = [3]int64{4, 4, 4}
	ts.LowerClipDisplayBound = geom.Vec3{0, 0, 0}
	ts.UpperClipDisplayBound = geom.Vec3{40, 40, 40}
	ts.ChunkDisplayDims = [3]int{0, 1, -1}

	p := visibleProjection(1)
	p.ViewportWidth = 40
	p.ViewportHeight = 40

	// Plane at z=200: no chunk slab reaches it.
	center := geom.Vec3{20, 20, 200}
	var count int
	err := PlaneGeometry{}.ForEachIntersectingChunk(&p, center, ts, func() error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if count != 0 {
		t.Fatalf("visited %d chunks for a plane outside the volume", count)
	}
}

func TestVisibleSources_scaleSelection(t *testing.T) {
	mk := func(id uint64, voxel float64) *TransformedSource {
		ts := newTestTransformedSource(t, id, geom.Vec3{10, 10, 0}, 2)
		ts.EffectiveVoxelSize = geom.Vec3{voxel, voxel, 0}
		ts.LowerChunkDisplayBound = [3]int64{0, 0, 0}
		ts.UpperChunkDisplayBound = [3]int64{4, 4, 1}
		return ts
	}
	coarse := mk(1, 8)
	mid := mk(2, 4)
	fine := mk(3, 1)
	groups := [][]*TransformedSource{{fine}, {coarse}, {mid}}

	p := visibleProjection(1)
	got := PlaneGeometry{}.VisibleSources(&p, 2, groups)
	if len(got) != 2 || got[0] != coarse || got[1] != mid {
		t.Fatalf("selection for target 2 = %v", keysOf(got))
	}

	// Nothing coarse enough: fall back to the coarsest group alone.
	got = PlaneGeometry{}.VisibleSources(&p, 100, groups)
	if len(got) != 1 || got[0] != coarse {
		t.Fatalf("fallback selection = %v", keysOf(got))
	}

	// Empty candidate set means transient absence, not an error.
	if got := (PlaneGeometry{}).VisibleSources(&p, 2, nil); got != nil {
		t.Fatalf("empty candidates produced %v", keysOf(got))
	}
}

func TestForEachIntersectingChunk_anisotropicLayoutNormal(t *testing.T) {
	// Layout stretches z by 10, like an EM stack with thick sections. A
	// plane tilted 45 degrees in display space still has to reject the
	// chunks it misses; mapping the normal like a tangent vector would
	// squash it onto the x axis and pass the whole z=1 slab.
	src := NewChunkSource(7, ChunkSourceSpec{
		Rank:       3,
		ChunkShape: []int64{10, 10, 10},
		Volume:     "vol",
		ScaleKey:   "s0",
	})
	layout, err := geom.NewChunkLayout(geom.Vec3{10, 10, 10}, geom.Scaling(geom.Vec3{1, 1, 10}), 3)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	ts, err := NewTransformedSource(src, layout, 3)
	if err != nil {
		t.Fatalf("transformed source: %v", err)
	}
	ts.ChunkDisplayDims = [3]int{0, 1, 2}
	ts.LowerChunkDisplayBound = [3]int64{0, 0, 0}
	ts.UpperChunkDisplayBound = [3]int64{2, 2, 2}
	ts.LowerClipDisplayBound = geom.Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	ts.UpperClipDisplayBound = geom.Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}

	p := visibleProjection(1)
	p.GlobalPosition = geom.Vec3{5, 5, 50}
	p.PlaneNormal = geom.Vec3{1 / math.Sqrt2, 0, 1 / math.Sqrt2}
	p.PlaneAxisX = geom.Vec3{0, 1, 0}
	p.PlaneAxisY = geom.Vec3{1 / math.Sqrt2, 0, -1 / math.Sqrt2}
	p.ViewportWidth = 200
	p.ViewportHeight = 200

	localCenter := ts.Layout.LocalPoint(p.GlobalPosition)
	var got []string
	err = PlaneGeometry{}.ForEachIntersectingChunk(&p, localCenter, ts, func() error {
		got = append(got, GridKey(ts.CurPositionInChunks()))
		return nil
	})
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	sort.Strings(got)
	want := []string{"0,0,0", "0,1,0", "1,0,0", "1,1,0"}
	if len(got) != len(want) {
		t.Fatalf("positions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("positions = %v, want %v", got, want)
		}
	}
}

func TestVisibleSources_dropsClippedAwaySources(t *testing.T) {
	visible := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	visible.EffectiveVoxelSize = geom.Vec3{4, 4, 0}
	visible.LowerChunkDisplayBound = [3]int64{0, 0, 0}
	visible.UpperChunkDisplayBound = [3]int64{4, 4, 1}

	clipped := newTestTransformedSource(t, 2, geom.Vec3{10, 10, 0}, 2)
	clipped.EffectiveVoxelSize = geom.Vec3{4, 4, 0}
	clipped.LowerChunkDisplayBound = [3]int64{2, 2, 0}
	clipped.UpperChunkDisplayBound = [3]int64{2, 4, 1}

	p := visibleProjection(1)
	got := PlaneGeometry{}.VisibleSources(&p, 2, [][]*TransformedSource{{visible, clipped}})
	if len(got) != 1 || got[0] != visible {
		t.Fatalf("selection = %v, want only the unclipped source", keysOf(got))
	}
}

func keysOf(sources []*TransformedSource) []uint64 {
	var out []uint64
	for _, ts := range sources {
		out = append(out, ts.Source.ID)
	}
	return out
}
