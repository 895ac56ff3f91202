package sliceview

import (
	"errors"
	"testing"

	"volview.dev/internal/geom"
)

func TestAddVisibleLayer_readdDisposesPriorSourcesOnce(t *testing.T) {
	req := &recordingRequester{}
	v := New(scriptedGeometry{positions: [][3]int64{{0, 0, 0}}}, req, nil)

	old1 := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	old2 := newTestTransformedSource(t, 2, geom.Vec3{20, 20, 0}, 2)
	layer := NewLayer("L", 1)
	v.AddVisibleLayer(layer, [][]*TransformedSource{{old1}, {old2}})

	v.SetProjection(visibleProjection(1))
	if err := v.UpdateVisibleChunks(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := v.VisibleSourceCount(layer); got != 2 {
		t.Fatalf("visible sources = %d, want 2", got)
	}

	replacement := newTestTransformedSource(t, 3, geom.Vec3{10, 10, 0}, 2)
	v.AddVisibleLayer(layer, [][]*TransformedSource{{replacement}})

	if !old1.Disposed() || !old2.Disposed() {
		t.Fatalf("replaced sources were not disposed")
	}
	if old1.Source.RefCount() != 0 || old2.Source.RefCount() != 0 {
		t.Fatalf("chunk source references leaked: %d, %d",
			old1.Source.RefCount(), old2.Source.RefCount())
	}
	// Dispose is idempotent per source: a second disposal pass (e.g. layer
	// removal) must not double-decrement.
	if old1.Dispose() {
		t.Fatalf("second dispose decremented again")
	}

	if got := v.VisibleSourceCount(layer); got != 0 {
		t.Fatalf("visible sources = %d before recomputation, want 0", got)
	}
	if err := v.UpdateVisibleChunks(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := v.VisibleSourceCount(layer); got != 1 {
		t.Fatalf("visible sources = %d after recomputation, want 1", got)
	}
}

func TestRemoveVisibleLayer_neverAddedIsContractViolation(t *testing.T) {
	req := &recordingRequester{}
	v := New(scriptedGeometry{}, req, nil)

	err := v.RemoveVisibleLayer(NewLayer("ghost", 1))
	if !errors.Is(err, ErrLayerNotRegistered) {
		t.Fatalf("err = %v, want ErrLayerNotRegistered", err)
	}
}

func TestRemoveVisibleLayer_unregistersListeners(t *testing.T) {
	req := &recordingRequester{}
	v := New(scriptedGeometry{}, req, nil)

	ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	layer := NewLayer("L", 1)
	v.AddVisibleLayer(layer, [][]*TransformedSource{{ts}})

	v.SetProjection(visibleProjection(1))
	if err := v.UpdateVisibleChunks(); err != nil {
		t.Fatalf("update: %v", err)
	}

	layer.SetRenderScaleTarget(2)
	scheduledBefore := req.scheduled
	if scheduledBefore == 0 {
		t.Fatalf("render scale change did not schedule while registered")
	}
	if err := v.UpdateVisibleChunks(); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := v.RemoveVisibleLayer(layer); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := v.UpdateVisibleChunks(); err != nil {
		t.Fatalf("update: %v", err)
	}
	scheduledAfter := req.scheduled

	layer.SetRenderScaleTarget(9)
	layer.SetLocalPosition([]float64{1, 2})
	if req.scheduled != scheduledAfter {
		t.Fatalf("mutations after removal still scheduled updates")
	}
	if layer.RenderScaleChanged.HandlerCount() != 0 || layer.LocalPositionChanged.HandlerCount() != 0 {
		t.Fatalf("listeners survived removal: %d, %d",
			layer.RenderScaleChanged.HandlerCount(), layer.LocalPositionChanged.HandlerCount())
	}
	if !ts.Disposed() {
		t.Fatalf("removed layer's source was not disposed")
	}
}

func TestRemoveVisibleLayer_doubleRemoveFails(t *testing.T) {
	req := &recordingRequester{}
	v := New(scriptedGeometry{}, req, nil)

	ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	layer := NewLayer("L", 1)
	v.AddVisibleLayer(layer, [][]*TransformedSource{{ts}})

	if err := v.RemoveVisibleLayer(layer); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := v.RemoveVisibleLayer(layer); !errors.Is(err, ErrLayerNotRegistered) {
		t.Fatalf("second remove err = %v, want ErrLayerNotRegistered", err)
	}
}

func TestDispose_removesEveryLayer(t *testing.T) {
	req := &recordingRequester{}
	v := New(scriptedGeometry{}, req, nil)

	a := NewLayer("A", 1)
	b := NewLayer("B", 1)
	tsA := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	tsB := newTestTransformedSource(t, 2, geom.Vec3{10, 10, 0}, 2)
	v.AddVisibleLayer(a, [][]*TransformedSource{{tsA}})
	v.AddVisibleLayer(b, [][]*TransformedSource{{tsB}})

	v.Dispose()

	if v.LayerCount() != 0 {
		t.Fatalf("layer count = %d after dispose", v.LayerCount())
	}
	if !tsA.Disposed() || !tsB.Disposed() {
		t.Fatalf("sources survived controller dispose")
	}
	if a.RenderScaleChanged.HandlerCount() != 0 || b.LocalPositionChanged.HandlerCount() != 0 {
		t.Fatalf("listeners survived controller dispose")
	}
}

func TestInvalidateVisibility_coalesces(t *testing.T) {
	req := &recordingRequester{}
	v := New(scriptedGeometry{}, req, nil)

	ts := newTestTransformedSource(t, 1, geom.Vec3{10, 10, 0}, 2)
	layer := NewLayer("L", 1)
	v.AddVisibleLayer(layer, [][]*TransformedSource{{ts}})
	if req.scheduled != 1 {
		t.Fatalf("add scheduled %d updates, want 1", req.scheduled)
	}

	// Further invalidations before the pass runs must coalesce.
	v.SetProjection(visibleProjection(1))
	layer.SetRenderScaleTarget(3)
	if req.scheduled != 1 {
		t.Fatalf("scheduled %d updates before pass, want 1", req.scheduled)
	}

	if err := v.UpdateVisibleChunks(); err != nil {
		t.Fatalf("update: %v", err)
	}
	v.SetProjection(visibleProjection(0.5))
	if req.scheduled != 2 {
		t.Fatalf("scheduled %d updates after pass, want 2", req.scheduled)
	}
}
