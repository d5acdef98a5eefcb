// Package engine implements the session protocol of the Argus tracking
// engine: configuration sets consumed at creation, a Created → Running ⇄
// Stopped → Destroyed lifecycle, an observer registry, and immutable state
// snapshots obtained by pull (AcquireLatestState/Release) or push
// (RegisterStateHandler).
//
// The API is not safe for concurrent use; calls from multiple goroutines
// must be serialized by the caller. The engine runs its own processing and
// delivery goroutines internally and synchronizes each host call against
// the processing cycle in a blocking fashion: an observer mutation is
// visible in any state acquired after the mutating call returns.
//
// Calls are allowed from within a registered state handler, except Stop,
// Destroy and RegisterStateHandler, which fail there with
// ErrorCodeReentrantCall.
package engine

import (
	"log"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/argus-ar/engine/core"
	"github.com/argus-ar/engine/driver"
	"github.com/argus-ar/engine/internal/device"
	"github.com/argus-ar/engine/internal/license"
	"github.com/argus-ar/engine/internal/pipeline"
)

type phase int

const (
	phaseCreated phase = iota
	phaseRunning
	phaseStopped
	phaseDestroyed
)

// Only one engine instance may exist per process. Create fails with
// ErrorCodeInitialization while another live (non-destroyed) instance exists.
var (
	liveMu sync.Mutex
	live   *Engine
)

// licenseVerifyDelay models the license service round trip. Tests shorten it.
var licenseVerifyDelay = 100 * time.Millisecond

// Engine is a tracking engine session. Obtain one from Create, drive it with
// Start/Stop, and end it with Destroy.
type Engine struct {
	runID uuid.UUID

	mu             sync.Mutex
	phase          phase
	observers      map[int32]*Observer
	order          []int32
	nextObserverID int32
	handler        StateHandler
	latest         *pipeline.Cycle
	pipe           *pipeline.Pipeline

	drv      driver.Driver
	pipeOpts pipeline.Options
	verifier *license.Verifier
	appName  string

	// callbackGoroutine holds the ID of the goroutine currently executing
	// the state handler, or 0. Reentrancy is a property of the call stack:
	// only calls made from that goroutine count as coming from within the
	// callback, never concurrent host calls that overlap it in time.
	callbackGoroutine atomic.Int64

	deliver     chan *pipeline.Cycle
	deliverQuit chan struct{}
	deliverDone chan struct{}

	life *sessionLife
}

// LibraryVersion describes the engine library build.
type LibraryVersion struct {
	VersionString string
	Major         int
	Minor         int
	Patch         int
	Build         string
}

// Version returns the engine library version.
func Version() LibraryVersion {
	return LibraryVersion{VersionString: "0.9.2+dev", Major: 0, Minor: 9, Patch: 2, Build: "dev"}
}

// Create builds an engine session from the configuration set. The set is
// only read; it may be discarded immediately afterwards. Creation validates
// the configuration blocks, probes the host device, and starts asynchronous
// license verification — a verification failure surfaces on a later Start,
// not here. Creation is potentially long-running; avoid latency-sensitive
// goroutines.
func Create(set *ConfigSet) (*Engine, error) {
	if set == nil {
		return nil, newError(ErrorCodeInvalidConfig, "nil config set")
	}

	if set.license == nil {
		return nil, newError(ErrorCodeLicenseMissingKey, "license key is missing")
	}
	if f := license.Validate(set.license.Key); f != license.FailureNone {
		return nil, newError(licenseFailureCode(f), "license: %s", f)
	}

	profile := device.Probe()
	if ok, reason := device.CheckSupport(profile, device.DefaultRequirements); !ok {
		return nil, newError(ErrorCodeDeviceNotSupported, "device not supported: %s", reason)
	}

	requireCamera := false
	appName := "argus-host"
	if set.platform != nil {
		requireCamera = set.platform.RequireCamera
		if set.platform.AppName != "" {
			appName = set.platform.AppName
		}
	}
	if ok, reason := device.CheckCameraAccess(requireCamera); !ok {
		return nil, newError(ErrorCodePermissionError, "camera permission: %s", reason)
	}

	var drv driver.Driver
	if set.driver != nil {
		drv = set.driver.Driver
	} else {
		drv = driver.NewSynthetic(driver.SyntheticConfig{})
	}

	opts := pipeline.Options{}
	if set.render != nil {
		opts.NearPlane = set.render.NearPlane
		opts.FarPlane = set.render.FarPlane
		opts.Headless = set.render.Backend == RenderBackendHeadless
		if set.render.Viewport != (core.Vector4I{}) {
			vp := set.render.Viewport
			opts.ViewportOverride = &vp
		}
	}
	if set.calibration != nil {
		intr := set.calibration.Intrinsics
		opts.IntrinsicsOverride = &intr
	}

	liveMu.Lock()
	defer liveMu.Unlock()
	if live != nil {
		return nil, newError(ErrorCodeInitialization, "an engine instance already exists")
	}

	e := &Engine{
		runID:          uuid.New(),
		phase:          phaseCreated,
		observers:      make(map[int32]*Observer),
		nextObserverID: 1,
		drv:            drv,
		pipeOpts:       opts,
		verifier:       &license.Verifier{},
		appName:        appName,
		life:           &sessionLife{},
	}
	e.verifier.Start(set.license.Key, licenseVerifyDelay)
	live = e

	log.Printf("[engine] created session %s (app=%q, driver=%s, os=%s/%s, cores=%d)",
		e.runID, appName, drv.Name(), profile.OS, profile.Arch, profile.LogicalCores)
	return e, nil
}

// RunID returns the unique identifier of this engine session.
func (e *Engine) RunID() uuid.UUID { return e.runID }

// Running reports whether the engine is in the Running state.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase == phaseRunning
}

// Start transitions the engine to Running: the driver is opened and the
// internal processing loop begins producing state snapshots. Observers
// whose activation was requested while the engine was not running become
// active. Fails when already running, and fails with the license error when
// asynchronous license verification has failed since creation.
func (e *Engine) Start() error {
	e.mu.Lock()
	switch e.phase {
	case phaseDestroyed:
		e.mu.Unlock()
		return ErrDestroyed
	case phaseRunning:
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	if f := e.verifier.Failure(); f != license.FailureNone {
		e.mu.Unlock()
		return newError(licenseFailureCode(f), "license verification failed: %s", f)
	}

	pipe := pipeline.New(e.drv, e.observerSnapshots, e.publishCycle, e.pipeOpts)
	e.deliver = make(chan *pipeline.Cycle, 1)
	e.deliverQuit = make(chan struct{})
	e.deliverDone = make(chan struct{})
	e.pipe = pipe
	e.latest = nil
	e.mu.Unlock()

	if err := pipe.Start(); err != nil {
		e.mu.Lock()
		e.pipe = nil
		e.mu.Unlock()
		return newError(ErrorCodeDriverInvalid, "driver %s failed to open: %v", e.drv.Name(), err)
	}
	go e.deliverLoop(e.deliver, e.deliverQuit, e.deliverDone)

	e.mu.Lock()
	e.phase = phaseRunning
	e.mu.Unlock()
	log.Printf("[engine] session %s running", e.runID)
	return nil
}

// Stop transitions the engine to Stopped, deactivating all observers. Fails
// when not running or when called from within a state handler.
func (e *Engine) Stop() error {
	if e.inCallback() {
		return ErrReentrantCall
	}
	e.mu.Lock()
	switch e.phase {
	case phaseDestroyed:
		e.mu.Unlock()
		return ErrDestroyed
	case phaseCreated, phaseStopped:
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.phase = phaseStopped
	pipe := e.pipe
	quit, done := e.deliverQuit, e.deliverDone
	e.pipe = nil
	e.mu.Unlock()

	if err := pipe.Stop(); err != nil {
		log.Printf("[engine] driver close error: %v", err)
	}
	close(quit)
	<-done

	e.mu.Lock()
	for _, id := range e.order {
		e.observers[id].activated = false
	}
	e.latest = nil
	e.mu.Unlock()
	log.Printf("[engine] session %s stopped", e.runID)
	return nil
}

// Destroy ends the session from any state, implicitly stopping it when
// running. All observer handles and all non-reference-extended state
// snapshots become invalid. Fails when called from within a state handler.
func (e *Engine) Destroy() error {
	if e.inCallback() {
		return ErrReentrantCall
	}
	e.mu.Lock()
	if e.phase == phaseDestroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	running := e.phase == phaseRunning
	e.mu.Unlock()

	if running {
		if err := e.Stop(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	for _, id := range e.order {
		o := e.observers[id]
		o.destroyed = true
		o.activated = false
	}
	e.observers = make(map[int32]*Observer)
	e.order = nil
	e.handler = nil
	e.latest = nil
	e.phase = phaseDestroyed
	e.mu.Unlock()

	e.life.destroyed.Store(true)
	if n := e.life.outstanding.Load(); n > 0 {
		log.Printf("[engine] session %s destroyed with %d unreleased state handles", e.runID, n)
	} else {
		log.Printf("[engine] session %s destroyed", e.runID)
	}

	liveMu.Lock()
	if live == e {
		live = nil
	}
	liveMu.Unlock()
	return nil
}

// AcquireLatestState returns a snapshot of the latest completed processing
// cycle. Fails when the engine is not running. A snapshot acquired before
// the first cycle completes carries no camera frame; check HasCameraFrame.
// Release the snapshot exactly once.
func (e *Engine) AcquireLatestState() (*State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != phaseRunning {
		if e.phase == phaseDestroyed {
			return nil, ErrDestroyed
		}
		return nil, ErrNotRunning
	}
	e.life.outstanding.Add(1)
	return &State{d: e.stateDataLocked(), kind: statePulled, life: e.life}, nil
}

// RegisterStateHandler registers the push callback. At most one handler may
// be registered at a time; nil unregisters. Fails when called from within a
// state handler.
func (e *Engine) RegisterStateHandler(h StateHandler) error {
	if e.inCallback() {
		return ErrReentrantCall
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == phaseDestroyed {
		return ErrDestroyed
	}
	if h != nil && e.handler != nil {
		return newError(ErrorCodeHandlerRegistered, "a state handler is already registered")
	}
	e.handler = h
	return nil
}

// stateDataLocked snapshots the latest cycle. Engine mutex held.
func (e *Engine) stateDataLocked() *stateData {
	c := e.latest
	if c == nil {
		return &stateData{}
	}
	return cycleStateData(c)
}

func cycleStateData(c *pipeline.Cycle) *stateData {
	d := &stateData{
		seq:        c.Seq,
		frameIndex: c.FrameIndex,
		timestamp:  c.Timestamp,
		hasFrame:   c.HasFrame,
		intrinsics: c.Intrinsics,
		render:     c.Render,
	}
	for _, po := range c.Observations {
		d.observations = append(d.observations, observationFromCycle(po))
	}
	return d
}

// publishCycle runs on the pipeline goroutine: record the latest cycle and
// hand it to the delivery goroutine, keeping only the freshest when the
// handler lags behind the frame rate.
func (e *Engine) publishCycle(c *pipeline.Cycle) {
	e.mu.Lock()
	e.latest = c
	deliver := e.deliver
	e.mu.Unlock()

	for {
		select {
		case deliver <- c:
			return
		default:
			select {
			case <-deliver:
			default:
			}
		}
	}
}

// deliverLoop invokes the registered state handler for each published cycle
// on a dedicated goroutine. The pushed snapshot expires when the handler
// returns.
func (e *Engine) deliverLoop(deliver chan *pipeline.Cycle, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case c := <-deliver:
			e.dispatch(c)
		}
	}
}

func (e *Engine) dispatch(c *pipeline.Cycle) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h == nil {
		return
	}

	expired := &atomic.Bool{}
	s := &State{d: cycleStateData(c), kind: statePushed, life: e.life, expired: expired}

	e.callbackGoroutine.Store(goroutineID())
	h(s)
	e.callbackGoroutine.Store(0)
	expired.Store(true)
}

// inCallback reports whether the caller is executing inside the state
// handler's call stack. Host goroutines that merely overlap an in-flight
// callback are not reentrant.
func (e *Engine) inCallback() bool {
	id := e.callbackGoroutine.Load()
	return id != 0 && id == goroutineID()
}

// goroutineID parses the calling goroutine's ID out of its stack header
// ("goroutine N [state]:"). The runtime exposes no direct accessor.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// syncPipeline fences a registry mutation: when the engine is running, it
// blocks until the pipeline has published a cycle that reflects the change.
// Mutations made from within a state handler apply immediately instead.
func (e *Engine) syncPipeline() {
	if e.inCallback() {
		return
	}
	e.mu.Lock()
	pipe := e.pipe
	e.mu.Unlock()
	if pipe != nil {
		pipe.Sync()
	}
}

func licenseFailureCode(f license.FailureKind) ErrorCode {
	switch f {
	case license.FailureNone:
		return 0
	case license.FailureMissingKey:
		return ErrorCodeLicenseMissingKey
	case license.FailureInvalidKey:
		return ErrorCodeLicenseInvalidKey
	case license.FailureNoNetworkPermanent:
		return ErrorCodeLicenseNoNetworkPermanent
	case license.FailureNoNetworkTransient:
		return ErrorCodeLicenseNoNetworkTransient
	case license.FailureBadRequest:
		return ErrorCodeLicenseBadRequest
	case license.FailureKeyCanceled:
		return ErrorCodeLicenseKeyCanceled
	case license.FailureProductTypeMismatch:
		return ErrorCodeLicenseProductTypeMismatch
	default:
		return ErrorCodeLicenseUnknown
	}
}
