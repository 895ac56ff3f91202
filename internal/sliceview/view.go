package sliceview

import "volview.dev/internal/geom"

// DisplayDimensions identifies which global dimensions map onto the three
// display axes. Generation is bumped on every change so per-layer
// visibility records can detect staleness cheaply.
type DisplayDimensions struct {
	IDs        [3]string
	Generation uint64
}

// ProjectionParameters is one consistent snapshot of the view: the plane
// being sliced, where it sits, and how visible the slice currently is.
type ProjectionParameters struct {
	// GlobalPosition is the view center in display space.
	GlobalPosition geom.Vec3

	// PlaneNormal is the unit normal of the viewing plane; PlaneAxisX and
	// PlaneAxisY span the plane.
	PlaneNormal geom.Vec3
	PlaneAxisX  geom.Vec3
	PlaneAxisY  geom.Vec3

	// Viewport extent in display units along the two plane axes.
	ViewportWidth  float64
	ViewportHeight float64

	Display DisplayDimensions

	// RenderScaleTarget is the desired display-space voxel size; scale
	// selection picks the coarsest scales that still satisfy it.
	RenderScaleTarget float64

	// VisibilityWeight is the scalar visibility signal.
	// VisibilityIgnored suppresses all chunk requests.
	VisibilityWeight float64
}

// DefaultProjection returns an axis-aligned XY slice through the origin
// with nothing visible yet.
func DefaultProjection() ProjectionParameters {
	return ProjectionParameters{
		PlaneNormal:       geom.Vec3{0, 0, 1},
		PlaneAxisX:        geom.Vec3{1, 0, 0},
		PlaneAxisY:        geom.Vec3{0, 1, 0},
		ViewportWidth:     1,
		ViewportHeight:    1,
		RenderScaleTarget: 1,
		VisibilityWeight:  VisibilityIgnored(),
	}
}
