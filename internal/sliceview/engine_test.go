package sliceview

import (
	"math"
	"testing"

	"volview.dev/internal/geom"
)

type chunkRequest struct {
	chunk *Chunk
	tier  PriorityTier
	score float64
}

type recordingRequester struct {
	requests  []chunkRequest
	scheduled int
}

func (r *recordingRequester) RequestChunk(c *Chunk, tier PriorityTier, score float64) {
	r.requests = append(r.requests, chunkRequest{c, tier, score})
}

func (r *recordingRequester) ScheduleUpdatePriorities() {
	r.scheduled++
}

// scriptedGeometry visits a fixed set of display grid positions for every
// source and keeps every candidate source visible in supplied order.
type scriptedGeometry struct {
	positions [][3]int64
}

func (g scriptedGeometry) ForEachIntersectingChunk(p *ProjectionParameters, localCenter geom.Vec3, ts *TransformedSource, visit func() error) error {
	for _, pos := range g.positions {
		ts.SetDisplayGridPosition(pos)
		if err := visit(); err != nil {
			return err
		}
	}
	return nil
}

func (g scriptedGeometry) VisibleSources(p *ProjectionParameters, renderScaleTarget float64, groups [][]*TransformedSource) []*TransformedSource {
	var out []*TransformedSource
	for _, group := range groups {
		out = append(out, group...)
	}
	return out
}

func newTestTransformedSource(t *testing.T, id uint64, chunkSize geom.Vec3, finiteRank int) *TransformedSource {
	t.Helper()
	shape := make([]int64, 2)
	for i := range shape {
		shape[i] = int64(chunkSize[i])
		if shape[i] <= 0 {
			shape[i] = 1
		}
	}
	src := NewChunkSource(id, ChunkSourceSpec{
		Rank:       2,
		ChunkShape: shape,
		Volume:     "vol",
		ScaleKey:   "s0",
	})
	layout, err := geom.NewChunkLayout(chunkSize, geom.Identity(), finiteRank)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	ts, err := NewTransformedSource(src, layout, 2)
	if err != nil {
		t.Fatalf("transformed source: %v", err)
	}
	ts.ChunkDisplayDims = [3]int{0, 1, -1}
	ts.UpperChunkDisplayBound = [3]int64{1 << 20, 1 << 20, 1}
	ts.LowerChunkDisplayBound = [3]int64{-(1 << 20), -(1 << 20), 0}
	ts.LowerClipDisplayBound = geom.Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	ts.UpperClipDisplayBound = geom.Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}
	ts.EffectiveVoxelSize = geom.Vec3{1, 1, 0}
	return ts
}

func visibleProjection(weight float64) ProjectionParameters {
	p := DefaultProjection()
	p.VisibilityWeight = weight
	p.ViewportWidth = 100
	p.ViewportHeight = 100
	return p
}

func TestUpdateVisibleChunks_invisibleSentinelSuppressesEverything(t *testing.T) {
	req := &recordingRequester{}
	v := New(scriptedGeometry{positions: [][3]int64{{0, 0, 0}}}, req, nil)

	ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	layer := NewLayer("L", 1)
	v.AddVisibleLayer(layer, [][]*TransformedSource{{ts}})

	p := visibleProjection(VisibilityIgnored())
	v.SetProjection(p)

	if err := v.UpdateVisibleChunks(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(req.requests) != 0 {
		t.Fatalf("%d requests submitted while invisible", len(req.requests))
	}
	if ts.Source.ChunkCount() != 0 {
		t.Fatalf("%d chunks materialized while invisible", ts.Source.ChunkCount())
	}
}

func TestUpdateVisibleChunks_endToEndScore(t *testing.T) {
	req := &recordingRequester{}
	v := New(scriptedGeometry{positions: [][3]int64{{2, 1, 0}}}, req, nil)

	ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	layer := NewLayer("L", 1)
	v.AddVisibleLayer(layer, [][]*TransformedSource{{ts}})

	p := visibleProjection(1)
	p.GlobalPosition = geom.Vec3{25, 15, 0}
	v.SetProjection(p)

	if err := v.UpdateVisibleChunks(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(req.requests) != 1 {
		t.Fatalf("%d requests, want 1", len(req.requests))
	}
	r := req.requests[0]
	if r.chunk.Key != "2,1" {
		t.Fatalf("chunk key = %q, want 2,1", r.chunk.Key)
	}
	if r.chunk.Source != ts.Source {
		t.Fatalf("chunk materialized on the wrong source")
	}
	if r.tier != TierVisible {
		t.Fatalf("tier = %v, want visible", r.tier)
	}
	wantScore := requestBasePriority + BasePriorityForVisibility(1) -
		geom.Vec3{25, 15, 0}.Dist(geom.Vec3{20, 10, 0})
	if math.Abs(r.score-wantScore) > 1e-6 {
		t.Fatalf("score = %v, want %v", r.score, wantScore)
	}
}

func TestUpdateVisibleChunks_scaleIndexDominatesDistance(t *testing.T) {
	req := &recordingRequester{}
	v := New(scriptedGeometry{positions: [][3]int64{{0, 0, 0}, {50, 50, 0}}}, req, nil)

	coarse := newTestTransformedSource(t, 1, geom.Vec3{100, 100, 0}, 2)
	fine := newTestTransformedSource(t, 2, geom.Vec3{10, 10, 0}, 2)
	layer := NewLayer("L", 1)
	v.AddVisibleLayer(layer, [][]*TransformedSource{{coarse}, {fine}})

	p := visibleProjection(1)
	p.GlobalPosition = geom.Vec3{500, 500, 0}
	v.SetProjection(p)

	if err := v.UpdateVisibleChunks(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(req.requests) != 4 {
		t.Fatalf("%d requests, want 4", len(req.requests))
	}
	for _, a := range req.requests[:2] {
		for _, b := range req.requests[2:] {
			if a.score <= b.score {
				t.Fatalf("coarse-scale score %v not above fine-scale score %v", a.score, b.score)
			}
		}
	}
}

func TestUpdateVisibleChunks_distanceMonotone(t *testing.T) {
	req := &recordingRequester{}
	v := New(scriptedGeometry{positions: [][3]int64{{1, 0, 0}, {5, 0, 0}}}, req, nil)

	ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	layer := NewLayer("L", 1)
	v.AddVisibleLayer(layer, [][]*TransformedSource{{ts}})

	p := visibleProjection(1)
	p.GlobalPosition = geom.Vec3{12, 0, 0}
	v.SetProjection(p)

	if err := v.UpdateVisibleChunks(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(req.requests) != 2 {
		t.Fatalf("%d requests, want 2", len(req.requests))
	}
	near, far := req.requests[0], req.requests[1]
	if near.chunk.Key != "1,0" || far.chunk.Key != "5,0" {
		t.Fatalf("unexpected request order: %q, %q", near.chunk.Key, far.chunk.Key)
	}
	if near.score <= far.score {
		t.Fatalf("nearer chunk scored %v, farther %v", near.score, far.score)
	}
}

func TestUpdateVisibleChunks_rankClamping(t *testing.T) {
	scoresAt := func(z float64) []float64 {
		req := &recordingRequester{}
		v := New(scriptedGeometry{positions: [][3]int64{{1, 1, 0}, {3, 0, 0}}}, req, nil)
		ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
		layer := NewLayer("L", 1)
		v.AddVisibleLayer(layer, [][]*TransformedSource{{ts}})

		p := visibleProjection(1)
		p.GlobalPosition = geom.Vec3{15, 25, z}
		v.SetProjection(p)
		if err := v.UpdateVisibleChunks(); err != nil {
			t.Fatalf("update: %v", err)
		}
		var out []float64
		for _, r := range req.requests {
			out = append(out, r.score)
		}
		return out
	}

	base := scoresAt(0)
	for _, z := range []float64{-1000, 3.5, 1e6} {
		got := scoresAt(z)
		if len(got) != len(base) {
			t.Fatalf("request count changed with view z")
		}
		for i := range got {
			if got[i] != base[i] {
				t.Fatalf("score[%d] changed with view z=%v: %v vs %v", i, z, got[i], base[i])
			}
		}
	}
}

func TestUpdateVisibleChunks_enumerationErrorPropagates(t *testing.T) {
	req := &recordingRequester{}
	v := New(failingGeometry{}, req, nil)

	ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	layer := NewLayer("L", 1)
	v.AddVisibleLayer(layer, [][]*TransformedSource{{ts}})
	v.SetProjection(visibleProjection(1))

	if err := v.UpdateVisibleChunks(); err == nil {
		t.Fatalf("enumeration error was swallowed")
	}
}

type failingGeometry struct{}

func (failingGeometry) ForEachIntersectingChunk(p *ProjectionParameters, localCenter geom.Vec3, ts *TransformedSource, visit func() error) error {
	return errEnumerationFailed
}

func (failingGeometry) VisibleSources(p *ProjectionParameters, renderScaleTarget float64, groups [][]*TransformedSource) []*TransformedSource {
	var out []*TransformedSource
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var errEnumerationFailed = errTest("enumeration failed")

type errTest string

func (e errTest) Error() string { return string(e) }
