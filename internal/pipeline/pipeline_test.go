package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/argus-ar/engine/core"
	"github.com/argus-ar/engine/driver"
)

type stubDriver struct {
	mu   sync.Mutex
	sink driver.FrameSink
}

func (d *stubDriver) Name() string { return "stub" }

func (d *stubDriver) Open(sink driver.FrameSink) error {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
	return nil
}

func (d *stubDriver) Close() error {
	d.mu.Lock()
	d.sink = nil
	d.mu.Unlock()
	return nil
}

func (d *stubDriver) emit(f driver.Frame) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink(f)
	}
}

func testFrame(index int64) driver.Frame {
	return driver.Frame{
		Index:     index,
		Timestamp: time.Now(),
		Intrinsics: core.CameraIntrinsics{
			Size:           core.Vector2F{640, 480},
			FocalLength:    core.Vector2F{500, 500},
			PrincipalPoint: core.Vector2F{320, 240},
		},
		DevicePose: core.MatrixIdentity(),
	}
}

// collector gathers published cycles for assertions.
type collector struct {
	mu     sync.Mutex
	cycles []*Cycle
}

func (c *collector) publish(cy *Cycle) {
	c.mu.Lock()
	c.cycles = append(c.cycles, cy)
	c.mu.Unlock()
}

func (c *collector) wait(t *testing.T, n int) []*Cycle {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.cycles) >= n {
			out := append([]*Cycle(nil), c.cycles...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d cycles", n)
	return nil
}

func startPipeline(t *testing.T, observers func() []ObserverSnapshot, opts Options) (*stubDriver, *collector, *Pipeline) {
	t.Helper()
	drv := &stubDriver{}
	col := &collector{}
	p := New(drv, observers, col.publish, opts)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { p.Stop() })
	return drv, col, p
}

func noObservers() []ObserverSnapshot { return nil }

func TestCyclePerFrame(t *testing.T) {
	drv, col, _ := startPipeline(t, noObservers, Options{})

	drv.emit(testFrame(0))
	cycles := col.wait(t, 1)
	if cycles[0].Seq != 0 {
		t.Errorf("first cycle seq = %d", cycles[0].Seq)
	}
	if !cycles[0].HasFrame {
		t.Error("cycle has no frame")
	}
	if cycles[0].FrameIndex != 0 {
		t.Errorf("frame index = %d", cycles[0].FrameIndex)
	}
}

func TestSyncRerunsLatestFrame(t *testing.T) {
	var mu sync.Mutex
	var snaps []ObserverSnapshot
	observers := func() []ObserverSnapshot {
		mu.Lock()
		defer mu.Unlock()
		return snaps
	}

	drv, col, p := startPipeline(t, observers, Options{})
	drv.emit(testFrame(0))
	col.wait(t, 1)

	// Activate an anchor and fence it: the sync cycle must already list it.
	mu.Lock()
	snaps = []ObserverSnapshot{{ID: 7, Kind: KindAnchor, TargetName: "a", Activated: true, StaticPose: core.MatrixIdentity()}}
	mu.Unlock()
	p.Sync()

	cycles := col.wait(t, 2)
	last := cycles[len(cycles)-1]
	if len(last.Observations) != 1 || last.Observations[0].ObserverID != 7 {
		t.Fatalf("sync cycle observations = %+v", last.Observations)
	}
	if last.FrameIndex != 0 {
		t.Errorf("sync cycle reused frame %d, want 0", last.FrameIndex)
	}
	if last.Seq <= cycles[0].Seq {
		t.Errorf("sync cycle seq %d not after %d", last.Seq, cycles[0].Seq)
	}
}

func TestSyncBeforeFirstFrame(t *testing.T) {
	_, col, p := startPipeline(t, noObservers, Options{})

	// Nothing to re-run yet; Sync must return without publishing.
	p.Sync()

	col.mu.Lock()
	n := len(col.cycles)
	col.mu.Unlock()
	if n != 0 {
		t.Errorf("published %d cycles before any frame", n)
	}
}

func TestSyncAfterStopReturns(t *testing.T) {
	drv := &stubDriver{}
	p := New(drv, noObservers, func(*Cycle) {}, Options{})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.Sync()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sync blocked after Stop")
	}
}

func TestLatestFrameWins(t *testing.T) {
	drv, col, _ := startPipeline(t, noObservers, Options{})

	// Burst far faster than the loop drains; the final frame must still be
	// the one the last cycle was produced from.
	for i := int64(0); i < 100; i++ {
		drv.emit(testFrame(i))
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		col.mu.Lock()
		n := len(col.cycles)
		var last *Cycle
		if n > 0 {
			last = col.cycles[n-1]
		}
		col.mu.Unlock()
		if last != nil && last.FrameIndex == 99 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("last cycle never caught up to the newest frame")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDevicePoseWarmup(t *testing.T) {
	observers := func() []ObserverSnapshot {
		return []ObserverSnapshot{{ID: 1, Kind: KindDevicePose, TargetName: "device", Activated: true}}
	}
	drv, col, _ := startPipeline(t, observers, Options{WarmupFrames: 5})

	drv.emit(testFrame(2))
	cycles := col.wait(t, 1)
	obs := cycles[0].Observations
	if len(obs) != 1 {
		t.Fatalf("got %d observations", len(obs))
	}
	if obs[0].Pose.Status != core.PoseStatusLimited {
		t.Errorf("pre-warmup status = %v, want limited", obs[0].Pose.Status)
	}

	drv.emit(testFrame(10))
	cycles = col.wait(t, 2)
	obs = cycles[len(cycles)-1].Observations
	if obs[0].Pose.Status != core.PoseStatusTracked {
		t.Errorf("post-warmup status = %v, want tracked", obs[0].Pose.Status)
	}
}

func TestTargetExtendedTracking(t *testing.T) {
	observers := func() []ObserverSnapshot {
		return []ObserverSnapshot{
			{ID: 1, Kind: KindDevicePose, TargetName: "device", Activated: true},
			{ID: 2, Kind: KindImageTarget, TargetName: "box", Activated: true},
		}
	}
	drv, col, _ := startPipeline(t, observers, Options{WarmupFrames: 1})

	// Target detected: tracked.
	f := testFrame(5)
	f.Detections = []driver.Detection{{TargetName: "box", Pose: core.MatrixTranslation(core.Vector3F{0, 0, -1}), Confidence: 0.9}}
	drv.emit(f)
	cycles := col.wait(t, 1)
	if got := findObs(t, cycles[0], 2).Pose.Status; got != core.PoseStatusTracked {
		t.Errorf("detected status = %v, want tracked", got)
	}

	// Detection lost but device pose settled: extended tracking holds on.
	drv.emit(testFrame(6))
	cycles = col.wait(t, 2)
	if got := findObs(t, cycles[len(cycles)-1], 2).Pose.Status; got != core.PoseStatusExtendedTracked {
		t.Errorf("lost-detection status = %v, want extended tracked", got)
	}
}

func TestTargetScaleRescalesPose(t *testing.T) {
	observers := func() []ObserverSnapshot {
		return []ObserverSnapshot{
			{ID: 1, Kind: KindImageTarget, TargetName: "box", Activated: true, Scale: 2},
			{ID: 2, Kind: KindImageTarget, TargetName: "crate", Activated: true, Scale: 1},
		}
	}
	drv, col, _ := startPipeline(t, observers, Options{})

	f := testFrame(0)
	f.Detections = []driver.Detection{
		{TargetName: "box", Pose: core.MatrixTranslation(core.Vector3F{0.5, 0, -1}), Confidence: 0.9},
		{TargetName: "crate", Pose: core.MatrixTranslation(core.Vector3F{0, 0, -3}), Confidence: 0.9},
	}
	drv.emit(f)
	cycles := col.wait(t, 1)

	// A doubled target size doubles the reported distance.
	if got, want := findObs(t, cycles[0], 1).Pose.Pose, core.MatrixTranslation(core.Vector3F{1, 0, -2}); got != want {
		t.Errorf("scaled pose = %v, want %v", got, want)
	}
	// Unit scale reports the detection pose untouched.
	if got, want := findObs(t, cycles[0], 2).Pose.Pose, core.MatrixTranslation(core.Vector3F{0, 0, -3}); got != want {
		t.Errorf("unit-scale pose = %v, want %v", got, want)
	}
}

func TestTargetNoPoseWithoutDeviceTracking(t *testing.T) {
	observers := func() []ObserverSnapshot {
		return []ObserverSnapshot{{ID: 2, Kind: KindImageTarget, TargetName: "box", Activated: true}}
	}
	drv, col, _ := startPipeline(t, observers, Options{})

	drv.emit(testFrame(0))
	cycles := col.wait(t, 1)
	obs := findObs(t, cycles[0], 2)
	if obs.Pose.Status != core.PoseStatusNoPose {
		t.Errorf("status = %v, want no pose", obs.Pose.Status)
	}
	if obs.HasPose {
		t.Error("poseless observation claims a pose")
	}
}

func TestDeactivatedObserversProduceNothing(t *testing.T) {
	observers := func() []ObserverSnapshot {
		return []ObserverSnapshot{{ID: 2, Kind: KindImageTarget, TargetName: "box", Activated: false}}
	}
	drv, col, _ := startPipeline(t, observers, Options{})

	drv.emit(testFrame(0))
	cycles := col.wait(t, 1)
	if n := len(cycles[0].Observations); n != 0 {
		t.Errorf("deactivated observer produced %d observations", n)
	}
}

func TestRenderStateOptions(t *testing.T) {
	vp := core.Vector4I{10, 10, 100, 100}
	observers := noObservers
	drv, col, _ := startPipeline(t, observers, Options{ViewportOverride: &vp, Headless: true})

	drv.emit(testFrame(0))
	cycles := col.wait(t, 1)
	rs := cycles[0].Render
	if rs.Viewport != vp {
		t.Errorf("viewport = %v, want override %v", rs.Viewport, vp)
	}
	if rs.VBMesh != nil {
		t.Error("headless cycle carries a video background mesh")
	}
}

func findObs(t *testing.T, c *Cycle, id int32) Observation {
	t.Helper()
	for _, o := range c.Observations {
		if o.ObserverID == id {
			return o
		}
	}
	t.Fatalf("no observation for observer %d in %+v", id, c.Observations)
	return Observation{}
}
