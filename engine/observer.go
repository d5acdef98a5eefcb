package engine

import (
	"os"

	"github.com/google/uuid"

	"github.com/argus-ar/engine/core"
	"github.com/argus-ar/engine/internal/pipeline"
)

// ObserverType tags the tracked-entity kind an observer produces
// observations for.
type ObserverType int32

const (
	ObserverTypeImageTarget ObserverType = 0x1
	ObserverTypeModelTarget ObserverType = 0x2
	ObserverTypeDevicePose  ObserverType = 0x3
	ObserverTypeAnchor      ObserverType = 0x4
)

func (t ObserverType) String() string {
	switch t {
	case ObserverTypeImageTarget:
		return "image target"
	case ObserverTypeModelTarget:
		return "model target"
	case ObserverTypeDevicePose:
		return "device pose"
	case ObserverTypeAnchor:
		return "anchor"
	default:
		return "unknown"
	}
}

func (t ObserverType) kind() pipeline.ObserverKind {
	switch t {
	case ObserverTypeImageTarget:
		return pipeline.KindImageTarget
	case ObserverTypeModelTarget:
		return pipeline.KindModelTarget
	case ObserverTypeDevicePose:
		return pipeline.KindDevicePose
	default:
		return pipeline.KindAnchor
	}
}

// Observer is a handle to one tracked-entity source owned by its engine.
// It is invalidated by Destroy and by destruction of the engine.
type Observer struct {
	e          *Engine
	id         int32
	typ        ObserverType
	name       string
	activated  bool
	destroyed  bool
	scale      float32
	staticPose core.Matrix44F
}

// ID returns the observer's identifier: positive, unique within the
// session, assigned in strictly increasing creation order and never reused.
func (o *Observer) ID() int32 { return o.id }

// Type returns the observer's type tag.
func (o *Observer) Type() ObserverType { return o.typ }

// Name returns the target name (or anchor name) the observer was created for.
func (o *Observer) Name() string { return o.name }

// IsActivated reports whether the observer currently feeds the pipeline.
func (o *Observer) IsActivated() bool {
	o.e.mu.Lock()
	defer o.e.mu.Unlock()
	return o.activated && !o.destroyed
}

// Activate starts producing observations for this observer. When the engine
// is running the call blocks until a processing cycle has incorporated the
// change. Fails when another observer is already actively observing the
// same target.
func (o *Observer) Activate() error {
	o.e.mu.Lock()
	if err := o.usable(); err != nil {
		o.e.mu.Unlock()
		return err
	}
	if err := o.e.activateLocked(o); err != nil {
		o.e.mu.Unlock()
		return err
	}
	o.e.mu.Unlock()
	o.e.syncPipeline()
	return nil
}

// Deactivate stops producing observations for this observer. Blocks like
// Activate when the engine is running.
func (o *Observer) Deactivate() error {
	o.e.mu.Lock()
	if err := o.usable(); err != nil {
		o.e.mu.Unlock()
		return err
	}
	o.activated = false
	o.e.mu.Unlock()
	o.e.syncPipeline()
	return nil
}

// Destroy invalidates the observer and removes it from the engine.
func (o *Observer) Destroy() error {
	o.e.mu.Lock()
	if err := o.usable(); err != nil {
		o.e.mu.Unlock()
		return err
	}
	o.e.removeObserverLocked(o)
	o.e.mu.Unlock()
	o.e.syncPipeline()
	return nil
}

// usable must be called with the engine mutex held.
func (o *Observer) usable() error {
	if o.destroyed {
		return newError(ErrorCodeObserverDestroyed, "observer %d has been destroyed", o.id)
	}
	if o.e.phase == phaseDestroyed {
		return ErrDestroyed
	}
	return nil
}

// activateLocked flips an observer active, enforcing the one-active-observer-
// per-target rule for target types. Engine mutex held.
func (e *Engine) activateLocked(o *Observer) error {
	if o.activated {
		return nil
	}
	if o.typ == ObserverTypeImageTarget || o.typ == ObserverTypeModelTarget {
		for _, id := range e.order {
			other := e.observers[id]
			if other != o && other.activated && other.name == o.name &&
				(other.typ == ObserverTypeImageTarget || other.typ == ObserverTypeModelTarget) {
				return newError(ErrorCodeTargetBusy, "target %q is already actively observed by observer %d", o.name, other.id)
			}
		}
	}
	o.activated = true
	return nil
}

func (e *Engine) removeObserverLocked(o *Observer) {
	o.destroyed = true
	o.activated = false
	delete(e.observers, o.id)
	for i, id := range e.order {
		if id == o.id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// ImageTargetConfig configures an image target observer.
type ImageTargetConfig struct {
	// DatabasePath points at the target database. Empty means the target
	// is registered directly with the frame source.
	DatabasePath string

	// TargetName selects the target within the database or frame source.
	TargetName string

	// Scale multiplies the stored target size. Must be positive.
	Scale float32

	// Activate requests automatic activation on creation.
	Activate bool
}

// DefaultImageTargetConfig returns an ImageTargetConfig with default values.
func DefaultImageTargetConfig() ImageTargetConfig {
	return ImageTargetConfig{Scale: 1, Activate: true}
}

// CreateImageTargetObserver creates an observer tracking one image target.
// When auto-activation was requested and fails, creation fails with
// CreationErrorAutoActivationFailed and no observer is retained.
func (e *Engine) CreateImageTargetObserver(cfg ImageTargetConfig) (*Observer, error) {
	return e.createTargetObserver(ObserverTypeImageTarget, cfg.DatabasePath, cfg.TargetName, cfg.Scale, cfg.Activate)
}

// ModelTargetConfig configures a model target observer.
type ModelTargetConfig struct {
	DatabasePath string
	TargetName   string
	Scale        float32
	Activate     bool
}

// DefaultModelTargetConfig returns a ModelTargetConfig with default values.
func DefaultModelTargetConfig() ModelTargetConfig {
	return ModelTargetConfig{Scale: 1, Activate: true}
}

// CreateModelTargetObserver creates an observer tracking one model target.
func (e *Engine) CreateModelTargetObserver(cfg ModelTargetConfig) (*Observer, error) {
	return e.createTargetObserver(ObserverTypeModelTarget, cfg.DatabasePath, cfg.TargetName, cfg.Scale, cfg.Activate)
}

func (e *Engine) createTargetObserver(typ ObserverType, dbPath, name string, scale float32, activate bool) (*Observer, error) {
	if name == "" {
		return nil, newCreationError(typ, CreationErrorInvalidTargetName, "empty target name")
	}
	if scale <= 0 {
		return nil, newCreationError(typ, CreationErrorInvalidScale, "scale %v must be positive", scale)
	}
	if dbPath != "" {
		if _, err := os.Stat(dbPath); err != nil {
			return nil, newCreationError(typ, CreationErrorDatabaseLoadError, "database %q: %v", dbPath, err)
		}
	}

	e.mu.Lock()
	if e.phase == phaseDestroyed {
		e.mu.Unlock()
		return nil, newCreationError(typ, CreationErrorInternal, "engine has been destroyed")
	}
	o := &Observer{e: e, id: e.nextObserverID, typ: typ, name: name, scale: scale}
	e.nextObserverID++
	e.observers[o.id] = o
	e.order = append(e.order, o.id)

	if activate {
		if err := e.activateLocked(o); err != nil {
			e.removeObserverLocked(o)
			e.mu.Unlock()
			return nil, newCreationError(typ, CreationErrorAutoActivationFailed, "auto-activation failed: %v", err)
		}
	}
	e.mu.Unlock()
	e.syncPipeline()
	return o, nil
}

// DevicePoseConfig configures a device pose observer.
type DevicePoseConfig struct {
	// StaticCamera declares the device stationary, skipping motion warmup.
	StaticCamera bool

	Activate bool
}

// DefaultDevicePoseConfig returns a DevicePoseConfig with default values.
func DefaultDevicePoseConfig() DevicePoseConfig {
	return DevicePoseConfig{Activate: true}
}

// CreateDevicePoseObserver creates an observer reporting the device pose in
// world space.
func (e *Engine) CreateDevicePoseObserver(cfg DevicePoseConfig) (*Observer, error) {
	typ := ObserverTypeDevicePose
	e.mu.Lock()
	if e.phase == phaseDestroyed {
		e.mu.Unlock()
		return nil, newCreationError(typ, CreationErrorInternal, "engine has been destroyed")
	}
	o := &Observer{e: e, id: e.nextObserverID, typ: typ, name: "device"}
	e.nextObserverID++
	e.observers[o.id] = o
	e.order = append(e.order, o.id)
	if cfg.Activate {
		o.activated = true
	}
	e.mu.Unlock()
	e.syncPipeline()
	return o, nil
}

// AnchorConfig configures an anchor observer pinned at a world pose.
type AnchorConfig struct {
	// Name identifies the anchor. Empty generates one.
	Name string

	// Pose is the fixed world pose of the anchor.
	Pose core.Matrix44F

	// DevicePose is the device pose observer anchors are tracked
	// relative to. Required.
	DevicePose *Observer

	Activate bool
}

// DefaultAnchorConfig returns an AnchorConfig with default values.
func DefaultAnchorConfig() AnchorConfig {
	return AnchorConfig{Pose: core.MatrixIdentity(), Activate: true}
}

// CreateAnchorObserver creates an observer reporting a fixed world pose.
func (e *Engine) CreateAnchorObserver(cfg AnchorConfig) (*Observer, error) {
	typ := ObserverTypeAnchor
	if cfg.DevicePose == nil || cfg.DevicePose.typ != ObserverTypeDevicePose {
		return nil, newCreationError(typ, CreationErrorInvalidDevicePoseObserver, "a device pose observer is required")
	}
	name := cfg.Name
	if name == "" {
		name = "anchor-" + uuid.NewString()[:8]
	}

	e.mu.Lock()
	if e.phase == phaseDestroyed {
		e.mu.Unlock()
		return nil, newCreationError(typ, CreationErrorInternal, "engine has been destroyed")
	}
	if cfg.DevicePose.destroyed {
		e.mu.Unlock()
		return nil, newCreationError(typ, CreationErrorInvalidDevicePoseObserver, "device pose observer has been destroyed")
	}
	o := &Observer{e: e, id: e.nextObserverID, typ: typ, name: name, staticPose: cfg.Pose}
	e.nextObserverID++
	e.observers[o.id] = o
	e.order = append(e.order, o.id)
	if cfg.Activate {
		o.activated = true
	}
	e.mu.Unlock()
	e.syncPipeline()
	return o, nil
}

// Observer returns the observer with the given ID.
func (e *Engine) Observer(id int32) (*Observer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == phaseDestroyed {
		return nil, ErrDestroyed
	}
	o, ok := e.observers[id]
	if !ok {
		return nil, newError(ErrorCodeObserverNotFound, "no observer with id %d", id)
	}
	return o, nil
}

// Observers returns all live observers in creation order.
func (e *Engine) Observers() []*Observer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Observer, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.observers[id])
	}
	return out
}

// DestroyObservers destroys all observers owned by the engine.
func (e *Engine) DestroyObservers() error {
	e.mu.Lock()
	if e.phase == phaseDestroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	for _, id := range e.order {
		o := e.observers[id]
		o.destroyed = true
		o.activated = false
	}
	e.observers = make(map[int32]*Observer)
	e.order = nil
	e.mu.Unlock()
	e.syncPipeline()
	return nil
}

// observerSnapshots is the pipeline's per-cycle view of the registry.
func (e *Engine) observerSnapshots() []pipeline.ObserverSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snaps := make([]pipeline.ObserverSnapshot, 0, len(e.order))
	for _, id := range e.order {
		o := e.observers[id]
		snaps = append(snaps, pipeline.ObserverSnapshot{
			ID:         o.id,
			Kind:       o.typ.kind(),
			TargetName: o.name,
			Activated:  o.activated,
			Scale:      o.scale,
			StaticPose: o.staticPose,
		})
	}
	return snaps
}
