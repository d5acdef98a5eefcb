package engine

import (
	"sync/atomic"
	"time"

	"github.com/argus-ar/engine/core"
)

// StateHandler receives pushed state snapshots on the engine's delivery
// goroutine. The snapshot is valid only for the duration of the call; use
// AcquireReference inside the handler to keep it longer.
type StateHandler func(*State)

type stateKind int

const (
	statePulled stateKind = iota
	statePushed
	stateReference
)

// sessionLife is shared between an engine and the states it hands out, so
// destroying the engine invalidates non-reference-extended snapshots without
// tracking them individually.
type sessionLife struct {
	destroyed   atomic.Bool
	outstanding atomic.Int64 // live acquire/reference handles, for leak reporting
}

// stateData is the immutable payload shared by a snapshot and all
// references acquired from it.
type stateData struct {
	seq          int64
	frameIndex   int64
	timestamp    time.Time
	hasFrame     bool
	intrinsics   core.CameraIntrinsics
	observations []Observation
	render       core.RenderState
}

// CameraFrame describes the camera frame a snapshot was produced from.
type CameraFrame struct {
	Index     int64
	Timestamp time.Time
}

// State is an immutable snapshot of one processing cycle: observations,
// camera frame data and render state. Snapshots from AcquireLatestState must
// be released exactly once; pushed snapshots expire when their callback
// returns; references from AcquireReference live until their own Release.
type State struct {
	d        *stateData
	kind     stateKind
	life     *sessionLife
	released bool
	expired  *atomic.Bool // set when a pushed snapshot's callback returns
}

func (s *State) valid() bool {
	if s.released {
		return false
	}
	if s.kind == statePushed && s.expired != nil && s.expired.Load() {
		return false
	}
	if s.kind != stateReference && s.life.destroyed.Load() {
		return false
	}
	return true
}

// Release ends the lifetime of a pulled snapshot or a reference. Pushed
// snapshots cannot be released; they expire with their callback. Releasing
// twice fails.
func (s *State) Release() error {
	if s.kind == statePushed {
		return newError(ErrorCodeStateInvalid, "pushed state expires with its callback and cannot be released")
	}
	if !s.valid() {
		return ErrStateInvalid
	}
	s.released = true
	s.life.outstanding.Add(-1)
	return nil
}

// AcquireReference returns a new handle to the same immutable content whose
// lifetime is independent of this snapshot, its callback, and the engine.
// Release it when done.
func (s *State) AcquireReference() (*State, error) {
	if !s.valid() {
		return nil, ErrStateInvalid
	}
	s.life.outstanding.Add(1)
	return &State{d: s.d, kind: stateReference, life: s.life}, nil
}

// Seq returns the processing cycle sequence number the snapshot was
// produced by.
func (s *State) Seq() (int64, error) {
	if !s.valid() {
		return 0, ErrStateInvalid
	}
	return s.d.seq, nil
}

// Observations returns every observation in the snapshot.
func (s *State) Observations() ([]Observation, error) {
	if !s.valid() {
		return nil, ErrStateInvalid
	}
	return s.d.observations, nil
}

// ObservationsWithPose returns the observations carrying pose info.
func (s *State) ObservationsWithPose() ([]Observation, error) {
	if !s.valid() {
		return nil, ErrStateInvalid
	}
	var out []Observation
	for _, o := range s.d.observations {
		if o.hasPose {
			out = append(out, o)
		}
	}
	return out, nil
}

// ObservationsByObserver returns the observations produced by the given
// observer.
func (s *State) ObservationsByObserver(observer *Observer) ([]Observation, error) {
	if !s.valid() {
		return nil, ErrStateInvalid
	}
	if observer == nil {
		return nil, newError(ErrorCodeObserverNotFound, "nil observer")
	}
	var out []Observation
	for _, o := range s.d.observations {
		if o.observerID == observer.id {
			out = append(out, o)
		}
	}
	return out, nil
}

// HasCameraFrame reports whether the snapshot carries camera frame data. A
// snapshot acquired after Start but before the first processing cycle does
// not; pushed snapshots always do.
func (s *State) HasCameraFrame() bool {
	return s.valid() && s.d.hasFrame
}

// CameraFrame returns the camera frame data. Fails when HasCameraFrame is
// false.
func (s *State) CameraFrame() (CameraFrame, error) {
	if !s.valid() {
		return CameraFrame{}, ErrStateInvalid
	}
	if !s.d.hasFrame {
		return CameraFrame{}, newError(ErrorCodeStateInvalid, "state has no camera frame yet")
	}
	return CameraFrame{Index: s.d.frameIndex, Timestamp: s.d.timestamp}, nil
}

// CameraIntrinsics returns the intrinsics of the snapshot's camera frame.
// Fails when the snapshot has no camera frame.
func (s *State) CameraIntrinsics() (core.CameraIntrinsics, error) {
	if !s.valid() {
		return core.CameraIntrinsics{}, ErrStateInvalid
	}
	if !s.d.hasFrame {
		return core.CameraIntrinsics{}, newError(ErrorCodeStateInvalid, "state has no camera frame yet")
	}
	return s.d.intrinsics, nil
}

// RenderState returns the render-relevant data of the snapshot. All members
// are zero when the snapshot predates the first camera frame.
func (s *State) RenderState() (core.RenderState, error) {
	if !s.valid() {
		return core.RenderState{}, ErrStateInvalid
	}
	return s.d.render, nil
}
