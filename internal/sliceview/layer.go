package sliceview

// Signal is a minimal change-notification list. Single goroutine only;
// Add returns the deregistration func for the handler it added.
type Signal struct {
	next     int
	handlers map[int]func()
}

func (s *Signal) Add(f func()) (remove func()) {
	if s.handlers == nil {
		s.handlers = map[int]func(){}
	}
	id := s.next
	s.next++
	s.handlers[id] = f
	return func() { delete(s.handlers, id) }
}

func (s *Signal) Dispatch() {
	for _, f := range s.handlers {
		f()
	}
}

// HandlerCount reports the number of registered handlers.
func (s *Signal) HandlerCount() int {
	return len(s.handlers)
}

// Layer is the rendering-side handle the controller manages visibility
// for. Its render scale target and local position fire change signals
// that invalidate visibility.
type Layer struct {
	Name string

	renderScaleTarget float64
	localPosition     []float64

	RenderScaleChanged   Signal
	LocalPositionChanged Signal
}

func NewLayer(name string, renderScaleTarget float64) *Layer {
	return &Layer{Name: name, renderScaleTarget: renderScaleTarget}
}

func (l *Layer) RenderScaleTarget() float64 {
	return l.renderScaleTarget
}

func (l *Layer) SetRenderScaleTarget(v float64) {
	if l.renderScaleTarget == v {
		return
	}
	l.renderScaleTarget = v
	l.RenderScaleChanged.Dispatch()
}

// LocalPosition returns the layer's position along its non-displayed
// dimensions. The returned slice is the layer's own buffer; do not keep
// it.
func (l *Layer) LocalPosition() []float64 {
	return l.localPosition
}

func (l *Layer) SetLocalPosition(p []float64) {
	if equalFloats(l.localPosition, p) {
		return
	}
	l.localPosition = append(l.localPosition[:0], p...)
	l.LocalPositionChanged.Dispatch()
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// visibleLayerInfo is the per-layer visibility record: every candidate
// transformed source grouped by scale, the currently selected visible
// subset, and the display configuration that selection was computed
// against.
type visibleLayerInfo struct {
	layer *Layer

	// allSources groups candidates by scale; outer index is the scale
	// group in the order the controller supplied it.
	allSources [][]*TransformedSource

	// visibleSources is the selected subset, coarsest scale first. Stale
	// whenever displayGeneration or sourcesChanged disagree with the
	// current projection.
	visibleSources []*TransformedSource

	displayGeneration uint64
	sourcesChanged    bool

	removeRenderScaleListener   func()
	removeLocalPositionListener func()
}

func (info *visibleLayerInfo) disposeSources() {
	for _, group := range info.allSources {
		for _, ts := range group {
			ts.Dispose()
		}
	}
	info.allSources = nil
	info.visibleSources = nil
}
