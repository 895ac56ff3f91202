package sliceview

import (
	"errors"
	"fmt"
)

var (
	errReentrantUpdate = errors.New("sliceview: re-entrant visibility update")

	// ErrLayerNotRegistered reports a remove for a layer that was never
	// added (or was already removed): a contract violation of the
	// add/remove pairing, never silently ignored.
	ErrLayerNotRegistered = errors.New("sliceview: layer not registered")
)

// AddVisibleLayer registers a layer with its candidate sources, or
// replaces an already registered layer's source set. Replacement disposes
// every previously held transformed source exactly once and leaves the
// visible subset empty until the next recomputation.
func (v *SliceView) AddVisibleLayer(layer *Layer, allSources [][]*TransformedSource) {
	info := v.layers[layer]
	if info == nil {
		info = &visibleLayerInfo{
			layer:             layer,
			displayGeneration: v.projection.Display.Generation,
		}
		info.removeRenderScaleListener = layer.RenderScaleChanged.Add(func() {
			info.sourcesChanged = true
			v.invalidateVisibility()
		})
		info.removeLocalPositionListener = layer.LocalPositionChanged.Add(func() {
			info.sourcesChanged = true
			v.invalidateVisibility()
		})
		v.layers[layer] = info
		v.layerOrder = append(v.layerOrder, layer)
	} else {
		info.disposeSources()
	}
	info.allSources = allSources
	info.visibleSources = nil
	info.sourcesChanged = true
	info.displayGeneration = v.projection.Display.Generation
	v.invalidateVisibility()
}

// RemoveVisibleLayer disposes a layer's sources, unregisters both change
// listeners added at registration, and drops the record.
func (v *SliceView) RemoveVisibleLayer(layer *Layer) error {
	info := v.layers[layer]
	if info == nil {
		return fmt.Errorf("%w: %q", ErrLayerNotRegistered, layer.Name)
	}
	info.disposeSources()
	info.removeRenderScaleListener()
	info.removeLocalPositionListener()
	delete(v.layers, layer)
	for i, l := range v.layerOrder {
		if l == layer {
			v.layerOrder = append(v.layerOrder[:i], v.layerOrder[i+1:]...)
			break
		}
	}
	v.invalidateVisibility()
	return nil
}

// Dispose removes every registered layer and releases the view's own
// state. No listeners or source references survive.
func (v *SliceView) Dispose() {
	for len(v.layerOrder) > 0 {
		_ = v.RemoveVisibleLayer(v.layerOrder[0])
	}
	v.layers = map[*Layer]*visibleLayerInfo{}
	v.disposed = true
}

// LayerCount reports the number of registered layers.
func (v *SliceView) LayerCount() int {
	return len(v.layers)
}
