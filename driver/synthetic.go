package driver

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/argus-ar/engine/core"
)

// TargetScript describes the scripted motion of one synthetic target.
// Motion is a function of frame index so runs are deterministic.
type TargetScript struct {
	Name string

	// Distance from the camera along Z, in scene units.
	Distance float32

	// OrbitRadius and OrbitPeriod drive a circular sweep in the XY plane.
	// A zero period holds the target stationary.
	OrbitRadius float32
	OrbitPeriod int64 // frames per revolution

	// VisibleFrom/VisibleUntil bound the frame range in which the target
	// is detected. VisibleUntil == 0 means visible forever.
	VisibleFrom  int64
	VisibleUntil int64

	// Confidence reported for each detection. Zero defaults to 1.
	Confidence float64
}

// SyntheticConfig configures the built-in synthetic driver.
type SyntheticConfig struct {
	FrameRate  int // frames per second, default 30
	Width      int // default 1280
	Height     int // default 720
	DeviceSway bool
	Targets    []TargetScript
}

// Synthetic is a deterministic frame generator used when no external camera
// driver is configured. Targets follow their scripts; the device pose sways
// gently when enabled so view matrices are exercised.
type Synthetic struct {
	cfg SyntheticConfig

	mu   sync.Mutex
	quit chan struct{}
	done chan struct{}
}

// NewSynthetic returns a synthetic driver for the given config.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	return &Synthetic{cfg: cfg}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Open(sink FrameSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		return fmt.Errorf("synthetic driver already open")
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(sink, s.quit, s.done)
	return nil
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	quit, done := s.quit, s.done
	s.quit, s.done = nil, nil
	s.mu.Unlock()
	if quit == nil {
		return fmt.Errorf("synthetic driver not open")
	}
	close(quit)
	<-done
	return nil
}

func (s *Synthetic) run(sink FrameSink, quit, done chan struct{}) {
	defer close(done)

	interval := time.Second / time.Duration(s.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var index int64
	for {
		select {
		case <-quit:
			return
		case now := <-ticker.C:
			sink(s.frame(index, now))
			index++
		}
	}
}

// Intrinsics returns the fixed intrinsics of the synthetic camera. The focal
// length approximates a 60 degree horizontal field of view.
func (s *Synthetic) Intrinsics() core.CameraIntrinsics {
	w := float32(s.cfg.Width)
	h := float32(s.cfg.Height)
	f := float32(float64(w) / (2 * math.Tan(30*math.Pi/180)))
	return core.CameraIntrinsics{
		Size:           core.Vector2F{w, h},
		FocalLength:    core.Vector2F{f, f},
		PrincipalPoint: core.Vector2F{w / 2, h / 2},
		DistortionMode: core.DistortionModeLinear,
	}
}

func (s *Synthetic) frame(index int64, now time.Time) Frame {
	f := Frame{
		Index:      index,
		Timestamp:  now,
		Intrinsics: s.Intrinsics(),
		DevicePose: core.MatrixIdentity(),
	}

	if s.cfg.DeviceSway {
		sway := 0.05 * math.Sin(float64(index)/45)
		f.DevicePose = core.MatrixRotationY(sway)
	}

	for _, t := range s.cfg.Targets {
		if index < t.VisibleFrom {
			continue
		}
		if t.VisibleUntil > 0 && index >= t.VisibleUntil {
			continue
		}
		conf := t.Confidence
		if conf == 0 {
			conf = 1
		}
		f.Detections = append(f.Detections, Detection{
			TargetName: t.Name,
			Pose:       t.poseAt(index),
			Confidence: conf,
		})
	}
	return f
}

func (t TargetScript) poseAt(index int64) core.Matrix44F {
	dist := t.Distance
	if dist == 0 {
		dist = 1
	}
	pos := core.Vector3F{0, 0, dist}
	if t.OrbitPeriod > 0 && t.OrbitRadius > 0 {
		phase := 2 * math.Pi * float64(index%t.OrbitPeriod) / float64(t.OrbitPeriod)
		pos[0] = t.OrbitRadius * float32(math.Cos(phase))
		pos[1] = t.OrbitRadius * float32(math.Sin(phase))
	}
	return core.MatrixTranslation(pos)
}
