package geom

// ChunkLayout describes the geometry of one source's chunk grid: how big a
// chunk is along each display axis, and how chunk layout space maps into
// the layer's display space.
//
// Axes at index >= FiniteRank carry no data. Their chunk extent is zero
// and positions along them never contribute to distances.
type ChunkLayout struct {
	// Size is the chunk extent along each display axis, in chunk layout
	// units. Zero on axes >= FiniteRank.
	Size Vec3

	// Transform maps chunk layout space to display space. Inverse is its
	// precomputed inverse (display space to chunk layout space).
	Transform Mat4
	Inverse   Mat4

	// FiniteRank is the number of display axes with real extent (0..3).
	FiniteRank int
}

// NewChunkLayout builds a layout and precomputes the inverse transform.
func NewChunkLayout(size Vec3, transform Mat4, finiteRank int) (ChunkLayout, error) {
	inv, err := transform.Inverse()
	if err != nil {
		return ChunkLayout{}, err
	}
	if finiteRank < 0 {
		finiteRank = 0
	}
	if finiteRank > 3 {
		finiteRank = 3
	}
	for a := finiteRank; a < 3; a++ {
		size[a] = 0
	}
	return ChunkLayout{Size: size, Transform: transform, Inverse: inv, FiniteRank: finiteRank}, nil
}

// LocalPoint maps a display-space point into chunk layout space.
func (l ChunkLayout) LocalPoint(p Vec3) Vec3 {
	return l.Inverse.TransformPoint(p)
}

// LocalVector maps a display-space direction into chunk layout space.
func (l ChunkLayout) LocalVector(v Vec3) Vec3 {
	return l.Inverse.TransformVector(v)
}

// LocalNormal maps a display-space plane normal into chunk layout space.
// A normal is a covector: it maps with the transpose of the forward
// transform, not with the inverse that point and tangent directions use.
func (l ChunkLayout) LocalNormal(n Vec3) Vec3 {
	return l.Transform.TransformVectorTranspose(n)
}
