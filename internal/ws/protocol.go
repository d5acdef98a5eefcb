package ws

import (
	"github.com/argus-ar/engine/engine"
)

type MessageType string

const (
	MsgSnapshot  MessageType = "snapshot"
	MsgState     MessageType = "state"
	MsgObservers MessageType = "observers"
	MsgError     MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatePayload is the wire form of one engine state snapshot.
type StatePayload struct {
	Seq            int64                `json:"seq"`
	HasCameraFrame bool                 `json:"hasCameraFrame"`
	FrameIndex     int64                `json:"frameIndex,omitempty"`
	Timestamp      int64                `json:"timestamp,omitempty"`
	Observations   []ObservationPayload `json:"observations"`
}

type ObservationPayload struct {
	ObserverID int32        `json:"observerId"`
	Type       string       `json:"type"`
	TargetName string       `json:"targetName,omitempty"`
	Status     string       `json:"status"`
	Pose       *[16]float32 `json:"pose,omitempty"`
}

type ObserverPayload struct {
	ID        int32  `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Activated bool   `json:"activated"`
}

type SnapshotPayload struct {
	State     *StatePayload     `json:"state"`
	Observers []ObserverPayload `json:"observers"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// StateToPayload flattens a state snapshot into its wire form. The caller
// must still hold the snapshot; the payload stays usable after release.
func StateToPayload(s *engine.State) (*StatePayload, error) {
	seq, err := s.Seq()
	if err != nil {
		return nil, err
	}
	obs, err := s.Observations()
	if err != nil {
		return nil, err
	}

	p := &StatePayload{
		Seq:            seq,
		HasCameraFrame: s.HasCameraFrame(),
		Observations:   make([]ObservationPayload, 0, len(obs)),
	}
	if p.HasCameraFrame {
		frame, err := s.CameraFrame()
		if err != nil {
			return nil, err
		}
		p.FrameIndex = frame.Index
		p.Timestamp = frame.Timestamp.UnixMilli()
	}

	for _, o := range obs {
		op := ObservationPayload{
			ObserverID: o.ObserverID(),
			Type:       o.Type().String(),
			TargetName: o.TargetName(),
			Status:     o.StatusOrNoPose().String(),
		}
		if o.HasPose() {
			pose, err := o.Pose()
			if err == nil {
				m := [16]float32(pose.Pose)
				op.Pose = &m
			}
		}
		p.Observations = append(p.Observations, op)
	}
	return p, nil
}

// ObserverToPayload flattens an observer descriptor into its wire form.
func ObserverToPayload(o *engine.Observer) ObserverPayload {
	return ObserverPayload{
		ID:        o.ID(),
		Type:      o.Type().String(),
		Name:      o.Name(),
		Activated: o.IsActivated(),
	}
}
