package pipeline

import (
	"github.com/argus-ar/engine/core"
	"github.com/argus-ar/engine/driver"
)

// trackDevice resolves the device pose for this cycle. Returns the pose and
// whether an activated device pose observer has settled past warmup.
func (p *Pipeline) trackDevice(f driver.Frame, snaps []ObserverSnapshot) (core.Matrix44F, bool) {
	active := false
	for _, s := range snaps {
		if s.Kind == KindDevicePose && s.Activated {
			active = true
			break
		}
	}
	if !active {
		return core.MatrixIdentity(), false
	}
	return f.DevicePose, f.Index >= p.opts.WarmupFrames
}

// track produces the observation for one activated observer.
func (p *Pipeline) track(s ObserverSnapshot, f driver.Frame, devicePose core.Matrix44F, deviceTracked bool) Observation {
	obs := Observation{
		ObserverID: s.ID,
		Kind:       s.Kind,
		TargetName: s.TargetName,
	}

	switch s.Kind {
	case KindDevicePose:
		obs.HasPose = true
		obs.Pose.Pose = devicePose
		if deviceTracked {
			obs.Pose.Status = core.PoseStatusTracked
		} else {
			obs.Pose.Status = core.PoseStatusLimited
		}

	case KindImageTarget, KindModelTarget:
		det, found := findDetection(f, s.TargetName)
		if !found {
			// Extended tracking holds the last-known region via the
			// device pose; without device tracking there is no pose.
			if deviceTracked {
				obs.HasPose = true
				obs.Pose.Status = core.PoseStatusExtendedTracked
				obs.Pose.Pose = devicePose
			} else {
				obs.Pose.Status = core.PoseStatusNoPose
			}
			break
		}
		obs.HasPose = true
		obs.Pose.Pose = scalePose(det.Pose, s.Scale)
		if det.Confidence < p.opts.ConfidenceFloor {
			obs.Pose.Status = core.PoseStatusLimited
		} else {
			obs.Pose.Status = core.PoseStatusTracked
		}

	case KindAnchor:
		obs.HasPose = true
		obs.Pose.Pose = s.StaticPose
		if deviceTracked {
			obs.Pose.Status = core.PoseStatusTracked
		} else {
			obs.Pose.Status = core.PoseStatusLimited
		}
	}

	return obs
}

// scalePose rescales the translation of a camera-space pose. The driver
// reports detections at unit target size; a scaled target sits
// proportionally further from (or closer to) the camera.
func scalePose(m core.Matrix44F, scale float32) core.Matrix44F {
	if scale == 0 || scale == 1 {
		return m
	}
	m[12] *= scale
	m[13] *= scale
	m[14] *= scale
	return m
}

func findDetection(f driver.Frame, name string) (driver.Detection, bool) {
	for _, d := range f.Detections {
		if d.TargetName == name {
			return d, true
		}
	}
	return driver.Detection{}, false
}

// renderState assembles the per-frame rendering data: full-frame viewport,
// background mesh and projection, and the augmentation view/projection pair.
func (p *Pipeline) renderState(f driver.Frame, devicePose core.Matrix44F, deviceTracked bool) core.RenderState {
	w := int32(f.Intrinsics.Size[0])
	h := int32(f.Intrinsics.Size[1])

	rs := core.RenderState{
		Viewport:           core.Vector4I{0, 0, w, h},
		VBProjectionMatrix: core.MatrixIdentity(),
		ViewMatrix:         core.MatrixIdentity(),
		ProjectionMatrix:   f.Intrinsics.ProjectionMatrix(p.opts.NearPlane, p.opts.FarPlane),
	}
	if p.opts.ViewportOverride != nil {
		rs.Viewport = *p.opts.ViewportOverride
	}
	if !p.opts.Headless {
		rs.VBMesh = videoBackgroundMesh()
	}
	if deviceTracked {
		rs.ViewMatrix = core.MatrixInverseRigid(devicePose)
	}
	return rs
}

// videoBackgroundMesh returns a unit quad in normalized device coordinates,
// two triangles with texture coordinates covering the full frame.
func videoBackgroundMesh() *core.Mesh {
	return &core.Mesh{
		Pos: []float32{
			-1, -1, 0,
			1, -1, 0,
			1, 1, 0,
			-1, 1, 0,
		},
		Tex: []float32{
			0, 1,
			1, 1,
			1, 0,
			0, 0,
		},
		FaceIndices: []uint32{0, 1, 2, 2, 3, 0},
	}
}
