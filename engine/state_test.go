package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/argus-ar/engine/core"
	"github.com/argus-ar/engine/driver"
)

// parkedHandler registers a state handler that blocks on its first
// invocation: the returned entered channel closes once the handler is
// inside, and the handler returns when release is closed.
func parkedHandler(t *testing.T, e *Engine) (entered, release chan struct{}) {
	t.Helper()
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	err := e.RegisterStateHandler(func(*State) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	if err != nil {
		t.Fatalf("RegisterStateHandler: %v", err)
	}
	return entered, release
}

func TestPulledStateReleasedExactlyOnce(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit()
	s := waitForFrame(t, e)

	if _, err := s.Seq(); err != nil {
		t.Fatalf("Seq: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := s.Release(); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("second Release = %v, want ErrStateInvalid", err)
	}
	if _, err := s.Seq(); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("Seq after Release = %v, want ErrStateInvalid", err)
	}
	if _, err := s.Observations(); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("Observations after Release = %v, want ErrStateInvalid", err)
	}
	if s.HasCameraFrame() {
		t.Error("released state reports a camera frame")
	}
}

func TestPulledStateContentSurvivesNewCycles(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit()
	s := waitForFrame(t, e)
	defer s.Release()

	first, err := s.CameraFrame()
	if err != nil {
		t.Fatalf("CameraFrame: %v", err)
	}

	// Further cycles must not mutate the held snapshot.
	for i := 0; i < 3; i++ {
		drv.Emit()
	}
	time.Sleep(20 * time.Millisecond)

	again, err := s.CameraFrame()
	if err != nil {
		t.Fatalf("CameraFrame after new cycles: %v", err)
	}
	if again.Index != first.Index {
		t.Errorf("held snapshot changed: frame %d -> %d", first.Index, again.Index)
	}
}

func TestPushedStateExpiresWithCallback(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)

	type result struct {
		pushed    *State
		ref       *State
		seqInside int64
		seqErr    error
		relErr    error
	}
	results := make(chan result, 1)

	err := e.RegisterStateHandler(func(s *State) {
		var r result
		r.pushed = s
		r.seqInside, r.seqErr = s.Seq()
		r.relErr = s.Release()
		r.ref, _ = s.AcquireReference()
		select {
		case results <- r:
		default:
		}
	})
	if err != nil {
		t.Fatalf("RegisterStateHandler: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit()

	var r result
	select {
	case r = <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	if r.seqErr != nil {
		t.Errorf("Seq inside callback failed: %v", r.seqErr)
	}
	if r.relErr == nil {
		t.Error("Release succeeded on a pushed state")
	}
	if r.ref == nil {
		t.Fatal("AcquireReference inside callback failed")
	}

	// The pushed handle is dead once the callback has returned; the
	// reference lives on with the same content.
	if _, err := r.pushed.Seq(); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("pushed Seq after callback = %v, want ErrStateInvalid", err)
	}
	seq, err := r.ref.Seq()
	if err != nil {
		t.Fatalf("reference Seq: %v", err)
	}
	if seq != r.seqInside {
		t.Errorf("reference seq = %d, want %d", seq, r.seqInside)
	}
	if err := r.ref.Release(); err != nil {
		t.Fatalf("reference Release: %v", err)
	}
}

func TestReferenceOutlivesEngine(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit()
	s := waitForFrame(t, e)

	ref, err := s.AcquireReference()
	if err != nil {
		t.Fatalf("AcquireReference: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := e.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, err := ref.Seq(); err != nil {
		t.Errorf("reference dead after engine destruction: %v", err)
	}
	if !ref.HasCameraFrame() {
		t.Error("reference lost its camera frame")
	}
	if err := ref.Release(); err != nil {
		t.Fatalf("reference Release: %v", err)
	}
}

func TestDestroyInvalidatesPulledState(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit()
	s := waitForFrame(t, e)

	if err := e.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := s.Seq(); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("pulled Seq after engine destruction = %v, want ErrStateInvalid", err)
	}
	if err := s.Release(); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("Release after engine destruction = %v, want ErrStateInvalid", err)
	}
}

func TestHandlerRegistration(t *testing.T) {
	e := newTestEngine(t, &fakeDriver{})
	h := func(*State) {}

	if err := e.RegisterStateHandler(h); err != nil {
		t.Fatalf("register: %v", err)
	}
	wantCode(t, e.RegisterStateHandler(h), ErrorCodeHandlerRegistered)

	if err := e.RegisterStateHandler(nil); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := e.RegisterStateHandler(h); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestReentrantCallsFromHandler(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)

	o, err := e.CreateImageTargetObserver(ImageTargetConfig{TargetName: "box", Scale: 1, Activate: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	type result struct {
		stopErr       error
		destroyErr    error
		registerErr   error
		deactivateErr error
		pullErr       error
	}
	results := make(chan result, 1)

	err = e.RegisterStateHandler(func(s *State) {
		var r result
		r.stopErr = e.Stop()
		r.destroyErr = e.Destroy()
		r.registerErr = e.RegisterStateHandler(nil)
		r.deactivateErr = o.Deactivate()
		pulled, err := e.AcquireLatestState()
		r.pullErr = err
		if err == nil {
			pulled.Release()
		}
		select {
		case results <- r:
		default:
		}
	})
	if err != nil {
		t.Fatalf("RegisterStateHandler: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit()

	var r result
	select {
	case r = <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	if !errors.Is(r.stopErr, ErrReentrantCall) {
		t.Errorf("Stop from handler = %v, want ErrReentrantCall", r.stopErr)
	}
	if !errors.Is(r.destroyErr, ErrReentrantCall) {
		t.Errorf("Destroy from handler = %v, want ErrReentrantCall", r.destroyErr)
	}
	if !errors.Is(r.registerErr, ErrReentrantCall) {
		t.Errorf("RegisterStateHandler from handler = %v, want ErrReentrantCall", r.registerErr)
	}
	if r.deactivateErr != nil {
		t.Errorf("Deactivate from handler = %v, want nil", r.deactivateErr)
	}
	if r.pullErr != nil {
		t.Errorf("AcquireLatestState from handler = %v, want nil", r.pullErr)
	}

	// The engine survived the reentrant attempts.
	if !e.Running() {
		t.Error("engine no longer running")
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop after handler: %v", err)
	}
}

func TestStopFromHostGoroutineDuringCallback(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)
	entered, release := parkedHandler(t, e)

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	// Reentrancy is per call stack: a host goroutine stopping the engine
	// while a callback is in flight is legal, and blocks until the callback
	// has returned.
	stopErr := make(chan error, 1)
	go func() { stopErr <- e.Stop() }()

	select {
	case err := <-stopErr:
		t.Fatalf("Stop returned %v while the handler was still executing", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-stopErr:
		if err != nil {
			t.Fatalf("Stop from host goroutine: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never returned after the handler finished")
	}
	if e.Running() {
		t.Error("engine still running after Stop")
	}
}

func TestDestroyFromHostGoroutineDuringCallback(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)
	entered, release := parkedHandler(t, e)

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	destroyErr := make(chan error, 1)
	go func() { destroyErr <- e.Destroy() }()

	select {
	case err := <-destroyErr:
		t.Fatalf("Destroy returned %v while the handler was still executing", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-destroyErr:
		if err != nil {
			t.Fatalf("Destroy from host goroutine: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy never returned after the handler finished")
	}
}

func TestHostMutationFencedDuringCallback(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)

	box, err := e.CreateImageTargetObserver(ImageTargetConfig{TargetName: "box", Scale: 1, Activate: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	entered, release := parkedHandler(t, e)
	defer close(release)

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit(driver.Detection{TargetName: "box", Pose: core.MatrixTranslation(core.Vector3F{0, 0, -2}), Confidence: 0.9})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	// A host-goroutine mutation overlapping an in-flight callback still
	// blocks until a cycle incorporates it: the snapshot acquired after the
	// call returns must not observe the deactivated target.
	if err := box.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	s, err := e.AcquireLatestState()
	if err != nil {
		t.Fatalf("AcquireLatestState: %v", err)
	}
	defer s.Release()

	obs, err := s.ObservationsByObserver(box)
	if err != nil {
		t.Fatalf("ObservationsByObserver: %v", err)
	}
	if len(obs) != 0 {
		t.Errorf("deactivated observer still observed %d times after Deactivate returned", len(obs))
	}
}

func TestObservationFiltering(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)

	dp, err := e.CreateDevicePoseObserver(DefaultDevicePoseConfig())
	if err != nil {
		t.Fatalf("create device pose: %v", err)
	}
	box, err := e.CreateImageTargetObserver(ImageTargetConfig{TargetName: "box", Scale: 1, Activate: true})
	if err != nil {
		t.Fatalf("create target: %v", err)
	}

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit(driver.Detection{TargetName: "box", Pose: core.MatrixTranslation(core.Vector3F{0, 0, -2}), Confidence: 0.3})
	s := waitForFrame(t, e)
	defer s.Release()

	all, err := s.Observations()
	if err != nil {
		t.Fatalf("Observations: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d observations, want 2", len(all))
	}

	boxObs, err := s.ObservationsByObserver(box)
	if err != nil {
		t.Fatalf("ObservationsByObserver: %v", err)
	}
	if len(boxObs) != 1 {
		t.Fatalf("got %d box observations, want 1", len(boxObs))
	}
	// Low confidence degrades to limited tracking.
	if boxObs[0].StatusOrNoPose() != core.PoseStatusLimited {
		t.Errorf("low-confidence status = %v, want limited", boxObs[0].StatusOrNoPose())
	}
	pose, err := boxObs[0].Pose()
	if err != nil {
		t.Fatalf("Pose: %v", err)
	}
	if pose.Pose != core.MatrixTranslation(core.Vector3F{0, 0, -2}) {
		t.Error("observation pose does not match the detection")
	}

	dpObs, err := s.ObservationsByObserver(dp)
	if err != nil {
		t.Fatalf("ObservationsByObserver(device): %v", err)
	}
	if len(dpObs) != 1 {
		t.Fatalf("got %d device pose observations, want 1", len(dpObs))
	}

	withPose, err := s.ObservationsWithPose()
	if err != nil {
		t.Fatalf("ObservationsWithPose: %v", err)
	}
	if len(withPose) != 2 {
		t.Errorf("got %d observations with pose, want 2", len(withPose))
	}

	if _, err := s.ObservationsByObserver(nil); CodeOf(err) != ErrorCodeObserverNotFound {
		t.Errorf("nil observer filter = %v", err)
	}
}

func TestTargetScaleReachesObservations(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)

	o, err := e.CreateImageTargetObserver(ImageTargetConfig{TargetName: "box", Scale: 2, Activate: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit(driver.Detection{TargetName: "box", Pose: core.MatrixTranslation(core.Vector3F{0, 0, -1}), Confidence: 0.9})
	s := waitForFrame(t, e)
	defer s.Release()

	obs, err := s.ObservationsByObserver(o)
	if err != nil {
		t.Fatalf("ObservationsByObserver: %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("got %d observations, want 1", len(obs))
	}
	pose, err := obs[0].Pose()
	if err != nil {
		t.Fatalf("Pose: %v", err)
	}
	if want := core.MatrixTranslation(core.Vector3F{0, 0, -2}); pose.Pose != want {
		t.Errorf("scale-2 pose = %v, want %v", pose.Pose, want)
	}
}

func TestRenderStateAfterFirstCycle(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestEngine(t, drv)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	drv.Emit()
	s := waitForFrame(t, e)
	defer s.Release()

	rs, err := s.RenderState()
	if err != nil {
		t.Fatalf("RenderState: %v", err)
	}
	if rs.Viewport != (core.Vector4I{0, 0, 640, 480}) {
		t.Errorf("viewport = %v", rs.Viewport)
	}
	if rs.VBMesh == nil {
		t.Error("no video background mesh")
	}
	if rs.ProjectionMatrix == (core.Matrix44F{}) {
		t.Error("zero projection matrix")
	}
}
