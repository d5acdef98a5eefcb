// Package core holds the math and camera data types shared by the engine
// API and its internal processing pipeline.
package core

import "math"

// Matrix44F is a 4x4 float matrix in column-major order, immediately
// suitable for rendering in OpenGL. Element (row r, column c) is at
// index c*4+r.
type Matrix44F [16]float32

// Vector2F is a 2D float vector.
type Vector2F [2]float32

// Vector3F is a 3D float vector.
type Vector3F [3]float32

// Vector4I is a 4D integer vector. Used for viewports as {x, y, width, height}.
type Vector4I [4]int32

// MatrixIdentity returns the 4x4 identity matrix.
func MatrixIdentity() Matrix44F {
	return Matrix44F{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// MatrixTranslation returns a matrix translating by t.
func MatrixTranslation(t Vector3F) Matrix44F {
	m := MatrixIdentity()
	m[12] = t[0]
	m[13] = t[1]
	m[14] = t[2]
	return m
}

// MatrixRotationY returns a matrix rotating by rad radians around the Y axis.
func MatrixRotationY(rad float64) Matrix44F {
	s := float32(math.Sin(rad))
	c := float32(math.Cos(rad))
	m := MatrixIdentity()
	m[0] = c
	m[2] = -s
	m[8] = s
	m[10] = c
	return m
}

// MatrixMultiply returns a*b with column-major storage, so the combined
// transform applies b first, then a.
func MatrixMultiply(a, b Matrix44F) Matrix44F {
	var out Matrix44F
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += a[k*4+r] * b[c*4+k]
			}
			out[c*4+r] = sum
		}
	}
	return out
}

// MatrixInverseRigid inverts a rigid transform (rotation + translation).
// The rotation block is transposed and the translation negated through it.
// Results are undefined for matrices with scale or shear.
func MatrixInverseRigid(m Matrix44F) Matrix44F {
	var out Matrix44F
	// Transpose the 3x3 rotation block.
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			out[c*4+r] = m[r*4+c]
		}
	}
	tx, ty, tz := m[12], m[13], m[14]
	out[12] = -(out[0]*tx + out[4]*ty + out[8]*tz)
	out[13] = -(out[1]*tx + out[5]*ty + out[9]*tz)
	out[14] = -(out[2]*tx + out[6]*ty + out[10]*tz)
	out[15] = 1
	return out
}
