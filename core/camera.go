package core

import "math"

// CameraDistortionMode identifies the lens distortion model of a camera.
type CameraDistortionMode int32

const (
	DistortionModeLinear  CameraDistortionMode = 0x1 // no distortion
	DistortionMode3Params CameraDistortionMode = 0x2 // 3 radial parameters
	DistortionMode4Params CameraDistortionMode = 0x3 // 2 radial + 2 tangential
	DistortionMode5Params CameraDistortionMode = 0x4 // 3 radial + 2 tangential
)

// CameraIntrinsics describes the pinhole model of a camera frame.
type CameraIntrinsics struct {
	// Size is the camera frame resolution in pixels.
	Size Vector2F

	// FocalLength in the x and y directions, in pixels.
	FocalLength Vector2F

	// PrincipalPoint is the optical center in pixels.
	PrincipalPoint Vector2F

	DistortionMode       CameraDistortionMode
	DistortionParameters [8]float32
}

// FOV returns the horizontal and vertical field of view in degrees.
// Returns a zero vector when the focal length is degenerate.
func (ci CameraIntrinsics) FOV() Vector2F {
	if ci.FocalLength[0] == 0 || ci.FocalLength[1] == 0 {
		return Vector2F{}
	}
	fx := 2 * math.Atan2(float64(ci.Size[0])/2, float64(ci.FocalLength[0]))
	fy := 2 * math.Atan2(float64(ci.Size[1])/2, float64(ci.FocalLength[1]))
	const degPerRad = 180 / math.Pi
	return Vector2F{float32(fx * degPerRad), float32(fy * degPerRad)}
}

// ProjectionMatrix builds an OpenGL-style perspective projection matrix from
// the intrinsics. The view space is right-handed with X pointing right, Y
// pointing down and the camera looking along positive Z; normalized device Z
// is in (-1, 1).
func (ci CameraIntrinsics) ProjectionMatrix(near, far float32) Matrix44F {
	w, h := ci.Size[0], ci.Size[1]
	if w == 0 || h == 0 || near >= far {
		return Matrix44F{}
	}
	var m Matrix44F
	m[0] = 2 * ci.FocalLength[0] / w
	m[5] = -2 * ci.FocalLength[1] / h
	m[8] = 1 - 2*ci.PrincipalPoint[0]/w
	m[9] = 2*ci.PrincipalPoint[1]/h - 1
	m[10] = (far + near) / (far - near)
	m[11] = 1
	m[14] = -2 * far * near / (far - near)
	return m
}

// Mesh is a simple triangle mesh with per-vertex data and face indices.
// Tex and Normal may be nil when the mesh carries no such data.
type Mesh struct {
	Pos         []float32 // 3 floats per vertex
	Tex         []float32 // 2 floats per vertex, optional
	Normal      []float32 // 3 floats per vertex, optional
	FaceIndices []uint32  // integer triplets, one triangle each
}

// NumVertices returns the vertex count of the mesh.
func (m *Mesh) NumVertices() int { return len(m.Pos) / 3 }

// NumFaces returns the triangle count of the mesh.
func (m *Mesh) NumFaces() int { return len(m.FaceIndices) / 3 }
