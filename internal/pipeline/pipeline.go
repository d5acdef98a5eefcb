// Package pipeline runs the engine's internal processing loop. A single
// goroutine consumes camera frames from a driver, runs the trackers for the
// currently activated observers, and publishes one immutable Cycle per
// frame. Host-initiated observer mutations are fenced through Sync so the
// cycle published before the mutating call returns already reflects them.
package pipeline

import (
	"log"
	"time"

	"github.com/argus-ar/engine/core"
	"github.com/argus-ar/engine/driver"
)

// ObserverKind selects the tracker behavior for an observer.
type ObserverKind int

const (
	KindImageTarget ObserverKind = iota
	KindModelTarget
	KindDevicePose
	KindAnchor
)

// ObserverSnapshot is the pipeline's per-cycle view of one observer. The
// engine supplies a fresh snapshot set each cycle so registry mutations
// never race with tracking.
type ObserverSnapshot struct {
	ID         int32
	Kind       ObserverKind
	TargetName string
	Activated  bool

	// Scale multiplies the stored size of target observers. The reported
	// distance to the target grows in proportion.
	Scale float32

	// StaticPose is the fixed world pose of anchor observers.
	StaticPose core.Matrix44F
}

// Observation is one tracker result within a cycle.
type Observation struct {
	ObserverID int32
	Kind       ObserverKind
	TargetName string
	HasPose    bool
	Pose       core.PoseInfo
}

// Cycle is the immutable result of one processing iteration.
type Cycle struct {
	Seq          int64
	FrameIndex   int64
	Timestamp    time.Time
	HasFrame     bool
	Intrinsics   core.CameraIntrinsics
	Observations []Observation
	Render       core.RenderState
}

// Options tune the trackers.
type Options struct {
	// ConfidenceFloor is the detection confidence below which target
	// poses degrade to limited tracking. Default 0.5.
	ConfidenceFloor float64

	// WarmupFrames is how many frames device pose tracking reports
	// limited status before settling. Default 5.
	WarmupFrames int64

	// NearPlane/FarPlane for the projection matrix. Defaults 0.01/100.
	NearPlane float32
	FarPlane  float32

	// IntrinsicsOverride replaces the driver-reported intrinsics with an
	// external calibration.
	IntrinsicsOverride *core.CameraIntrinsics

	// ViewportOverride replaces the auto-detected full-frame viewport.
	ViewportOverride *core.Vector4I

	// Headless skips video background mesh generation.
	Headless bool
}

func (o *Options) fill() {
	if o.ConfidenceFloor == 0 {
		o.ConfidenceFloor = 0.5
	}
	if o.WarmupFrames == 0 {
		o.WarmupFrames = 5
	}
	if o.NearPlane == 0 {
		o.NearPlane = 0.01
	}
	if o.FarPlane == 0 {
		o.FarPlane = 100
	}
}

type command struct {
	done chan struct{}
}

// Pipeline owns the processing goroutine between Start and Stop.
type Pipeline struct {
	drv       driver.Driver
	observers func() []ObserverSnapshot
	publish   func(*Cycle)
	opts      Options

	frames chan driver.Frame
	cmds   chan *command
	quit   chan struct{}
	done   chan struct{}

	// loop-goroutine state
	lastFrame *driver.Frame
	seq       int64
}

// New builds a pipeline. observers is called on the pipeline goroutine at
// every cycle; publish receives each completed cycle, also on the pipeline
// goroutine, and must not block for long.
func New(drv driver.Driver, observers func() []ObserverSnapshot, publish func(*Cycle), opts Options) *Pipeline {
	opts.fill()
	return &Pipeline{
		drv:       drv,
		observers: observers,
		publish:   publish,
		opts:      opts,
		frames:    make(chan driver.Frame, 1),
		cmds:      make(chan *command),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start opens the driver and begins processing.
func (p *Pipeline) Start() error {
	if err := p.drv.Open(p.sink); err != nil {
		return err
	}
	go p.run()
	return nil
}

// Stop closes the driver and blocks until the loop has drained. The
// pipeline cannot be restarted; the engine builds a fresh one per run.
func (p *Pipeline) Stop() error {
	err := p.drv.Close()
	close(p.quit)
	<-p.done
	return err
}

// Sync blocks until an observer-registry change has been incorporated into
// a published cycle. Any state acquired after Sync returns reflects the
// change.
func (p *Pipeline) Sync() {
	cmd := &command{done: make(chan struct{})}
	select {
	case p.cmds <- cmd:
		<-cmd.done
	case <-p.quit:
	}
}

// sink delivers a frame to the loop, replacing any undelivered older frame.
// The loop always processes the freshest frame available.
func (p *Pipeline) sink(f driver.Frame) {
	for {
		select {
		case p.frames <- f:
			return
		default:
			select {
			case <-p.frames:
			default:
			}
		}
	}
}

func (p *Pipeline) run() {
	defer close(p.done)
	log.Printf("[pipeline] started (driver=%s)", p.drv.Name())

	for {
		select {
		case <-p.quit:
			log.Printf("[pipeline] stopped after %d cycles", p.seq)
			return
		case cmd := <-p.cmds:
			// Re-run on the latest frame so the registry change is
			// visible in a published cycle before the caller resumes.
			if p.lastFrame != nil {
				p.runCycle(*p.lastFrame)
			}
			close(cmd.done)
		case f := <-p.frames:
			p.lastFrame = &f
			p.runCycle(f)
		}
	}
}

func (p *Pipeline) runCycle(f driver.Frame) {
	snaps := p.observers()

	if p.opts.IntrinsicsOverride != nil {
		f.Intrinsics = *p.opts.IntrinsicsOverride
	}

	c := &Cycle{
		Seq:        p.seq,
		FrameIndex: f.Index,
		Timestamp:  f.Timestamp,
		HasFrame:   true,
		Intrinsics: f.Intrinsics,
	}
	p.seq++

	devicePose, deviceTracked := p.trackDevice(f, snaps)

	for _, s := range snaps {
		if !s.Activated {
			continue
		}
		c.Observations = append(c.Observations, p.track(s, f, devicePose, deviceTracked))
	}

	c.Render = p.renderState(f, devicePose, deviceTracked)
	p.publish(c)
}
