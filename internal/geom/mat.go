package geom

import "fmt"

// Mat4 is a row-major homogeneous transform. Only affine transforms are
// supported: the bottom row is assumed to be (0,0,0,1).
type Mat4 [16]float64

func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns an affine transform that offsets points by t.
func Translation(t Vec3) Mat4 {
	m := Identity()
	m[3] = t[0]
	m[7] = t[1]
	m[11] = t[2]
	return m
}

// Scaling returns an affine transform that scales each axis by s.
func Scaling(s Vec3) Mat4 {
	m := Identity()
	m[0] = s[0]
	m[5] = s[1]
	m[10] = s[2]
	return m
}

// Mul returns m*o (o applied first).
func (m Mat4) Mul(o Mat4) Mat4 {
	var r Mat4
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[row*4+k] * o[k*4+col]
			}
			r[row*4+col] = sum
		}
	}
	return r
}

// TransformPoint applies the full affine transform, including translation.
func (m Mat4) TransformPoint(p Vec3) Vec3 {
	return Vec3{
		m[0]*p[0] + m[1]*p[1] + m[2]*p[2] + m[3],
		m[4]*p[0] + m[5]*p[1] + m[6]*p[2] + m[7],
		m[8]*p[0] + m[9]*p[1] + m[10]*p[2] + m[11],
	}
}

// TransformVector applies only the linear part (no translation).
func (m Mat4) TransformVector(v Vec3) Vec3 {
	return Vec3{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[4]*v[0] + m[5]*v[1] + m[6]*v[2],
		m[8]*v[0] + m[9]*v[1] + m[10]*v[2],
	}
}

// TransformVectorTranspose applies the transpose of the linear part.
func (m Mat4) TransformVectorTranspose(v Vec3) Vec3 {
	return Vec3{
		m[0]*v[0] + m[4]*v[1] + m[8]*v[2],
		m[1]*v[0] + m[5]*v[1] + m[9]*v[2],
		m[2]*v[0] + m[6]*v[1] + m[10]*v[2],
	}
}

// Inverse inverts an affine transform. Returns an error when the linear
// part is singular.
func (m Mat4) Inverse() (Mat4, error) {
	a, b, c := m[0], m[1], m[2]
	d, e, f := m[4], m[5], m[6]
	g, h, i := m[8], m[9], m[10]

	ca := e*i - f*h
	cb := f*g - d*i
	cc := d*h - e*g
	det := a*ca + b*cb + c*cc
	if det == 0 {
		return Mat4{}, fmt.Errorf("singular transform")
	}
	inv := 1 / det

	var r Mat4
	r[0] = ca * inv
	r[1] = (c*h - b*i) * inv
	r[2] = (b*f - c*e) * inv
	r[4] = cb * inv
	r[5] = (a*i - c*g) * inv
	r[6] = (c*d - a*f) * inv
	r[8] = cc * inv
	r[9] = (b*g - a*h) * inv
	r[10] = (a*e - b*d) * inv

	t := Vec3{m[3], m[7], m[11]}
	it := r.TransformVector(t)
	r[3] = -it[0]
	r[7] = -it[1]
	r[11] = -it[2]
	r[15] = 1
	return r, nil
}
