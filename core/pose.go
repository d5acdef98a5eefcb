package core

// PoseStatus describes the tracking quality behind an observation's pose.
type PoseStatus int32

const (
	// PoseStatusNoPose means no valid pose is available, typically because
	// the observed object is not currently detected.
	PoseStatusNoPose PoseStatus = 0x1

	// PoseStatusLimited means the object is tracked in a degraded form and
	// the pose may be unreliable.
	PoseStatusLimited PoseStatus = 0x2

	// PoseStatusTracked means the object is tracked with a valid pose.
	PoseStatusTracked PoseStatus = 0x3

	// PoseStatusExtendedTracked means the object is tracked beyond direct
	// visibility using the device pose.
	PoseStatusExtendedTracked PoseStatus = 0x4
)

func (s PoseStatus) String() string {
	switch s {
	case PoseStatusNoPose:
		return "no_pose"
	case PoseStatusLimited:
		return "limited"
	case PoseStatusTracked:
		return "tracked"
	case PoseStatusExtendedTracked:
		return "extended_tracked"
	default:
		return "unknown"
	}
}

// PoseInfo is the pose-specific payload of an observation that has one.
type PoseInfo struct {
	Status PoseStatus

	// Pose is a column-major model matrix immediately suitable for
	// rendering in OpenGL.
	Pose Matrix44F
}

// RenderState bundles everything a renderer needs for one frame: the video
// background and the augmentation matrices.
type RenderState struct {
	// Viewport as {x, y, width, height}.
	Viewport Vector4I

	// VBProjectionMatrix projects the video background mesh.
	VBProjectionMatrix Matrix44F

	// VBMesh is the video background mesh. Nil before the first camera
	// frame is available.
	VBMesh *Mesh

	// ViewMatrix is the inverse of the device pose. Identity when no
	// device pose observer is active.
	ViewMatrix Matrix44F

	// ProjectionMatrix is built from the current camera intrinsics.
	ProjectionMatrix Matrix44F
}
