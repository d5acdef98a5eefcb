// Package driver defines the camera frame source consumed by the processing
// pipeline. The engine selects a driver at creation time; hosts may inject
// their own implementation through the engine's driver configuration, the
// default is the built-in synthetic driver.
package driver

import (
	"time"

	"github.com/argus-ar/engine/core"
)

// Detection is a per-frame sighting of a named target reported by a driver.
// The pipeline matches detections against activated observers by target name.
type Detection struct {
	// TargetName identifies the target, matching the name an observer was
	// created with.
	TargetName string

	// Pose is the target pose in camera space, column-major.
	Pose core.Matrix44F

	// Confidence in [0, 1]. Values below the tracker's confidence floor
	// degrade the reported pose status to limited tracking.
	Confidence float64
}

// Frame is one camera frame delivered by a driver.
type Frame struct {
	// Index increases by one per delivered frame, starting at 0.
	Index int64

	Timestamp time.Time

	Intrinsics core.CameraIntrinsics

	// DevicePose is the camera pose in world space, or the zero matrix
	// when the driver provides no device tracking.
	DevicePose core.Matrix44F

	Detections []Detection
}

// FrameSink receives frames from a driver. Implementations must not retain
// the frame's slices beyond the call.
type FrameSink func(Frame)

// Driver produces camera frames at its own cadence. Open starts delivery to
// the sink on a driver-owned goroutine; Close stops delivery and blocks until
// no further frames will be emitted. A driver may be reopened after Close.
type Driver interface {
	Name() string
	Open(sink FrameSink) error
	Close() error
}
