package engine

import (
	"github.com/argus-ar/engine/core"
	"github.com/argus-ar/engine/internal/pipeline"
)

// Observation is one per-cycle result produced by an observer. Observations
// are owned by the State that carries them and are plain values; they stay
// readable for as long as the caller holds them.
type Observation struct {
	observerID int32
	typ        ObserverType
	targetName string
	hasPose    bool
	pose       core.PoseInfo
}

// ObserverID returns the ID of the observer that produced the observation.
func (o Observation) ObserverID() int32 { return o.observerID }

// Type returns the observation's type tag, matching the producing
// observer's type.
func (o Observation) Type() ObserverType { return o.typ }

// TargetName returns the observed target's name.
func (o Observation) TargetName() string { return o.targetName }

// HasPose reports whether Pose will succeed.
func (o Observation) HasPose() bool { return o.hasPose }

// Pose returns the observation's pose payload. Fails when the observation
// carries none; check HasPose first.
func (o Observation) Pose() (core.PoseInfo, error) {
	if !o.hasPose {
		return core.PoseInfo{}, newError(ErrorCodeStateInvalid, "observation has no pose info")
	}
	return o.pose, nil
}

// StatusOrNoPose returns the pose status, or PoseStatusNoPose for
// observations without pose info.
func (o Observation) StatusOrNoPose() core.PoseStatus {
	if !o.hasPose {
		return core.PoseStatusNoPose
	}
	return o.pose.Status
}

func observationFromCycle(po pipeline.Observation) Observation {
	obs := Observation{
		observerID: po.ObserverID,
		targetName: po.TargetName,
		hasPose:    po.HasPose,
		pose:       po.Pose,
	}
	switch po.Kind {
	case pipeline.KindImageTarget:
		obs.typ = ObserverTypeImageTarget
	case pipeline.KindModelTarget:
		obs.typ = ObserverTypeModelTarget
	case pipeline.KindDevicePose:
		obs.typ = ObserverTypeDevicePose
	case pipeline.KindAnchor:
		obs.typ = ObserverTypeAnchor
	}
	return obs
}
