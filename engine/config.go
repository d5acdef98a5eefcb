package engine

import (
	"github.com/argus-ar/engine/core"
	"github.com/argus-ar/engine/driver"
)

// RenderBackend selects the rendering convention the engine prepares
// matrices and meshes for.
type RenderBackend int32

const (
	RenderBackendDefault  RenderBackend = 0x1 // OpenGL-style column-major output
	RenderBackendOpenGLES RenderBackend = 0x2
	RenderBackendHeadless RenderBackend = 0x3 // no render state consumers
)

// FusionProvider selects the sensor fusion strategy.
type FusionProvider int32

const (
	FusionProviderAuto       FusionProvider = 0x1
	FusionProviderVisionOnly FusionProvider = 0x2
	FusionProviderSensors    FusionProvider = 0x3
)

// LicenseConfig carries the license key the engine is created with.
type LicenseConfig struct {
	Key string
}

// DefaultLicenseConfig returns a LicenseConfig with default values.
func DefaultLicenseConfig() LicenseConfig { return LicenseConfig{} }

// RenderConfig selects the render backend and clipping planes used when
// building projection matrices.
type RenderConfig struct {
	Backend   RenderBackend
	NearPlane float32
	FarPlane  float32

	// Viewport overrides the auto-detected video background viewport.
	// Zero means full frame.
	Viewport core.Vector4I
}

// DefaultRenderConfig returns a RenderConfig with default values.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{Backend: RenderBackendDefault, NearPlane: 0.01, FarPlane: 100}
}

// DriverConfig injects a custom camera driver. Without one the engine uses
// the built-in synthetic driver.
type DriverConfig struct {
	Driver driver.Driver
}

// DefaultDriverConfig returns a DriverConfig with default values.
func DefaultDriverConfig() DriverConfig { return DriverConfig{} }

// PlatformConfig carries host platform facts the engine cannot discover on
// its own.
type PlatformConfig struct {
	// AppName identifies the host application in diagnostics.
	AppName string

	// RequireCamera makes creation verify camera device access. Drivers
	// that synthesize frames do not need it.
	RequireCamera bool
}

// DefaultPlatformConfig returns a PlatformConfig with default values.
func DefaultPlatformConfig() PlatformConfig { return PlatformConfig{} }

// FusionProviderConfig selects the fusion provider.
type FusionProviderConfig struct {
	Provider FusionProvider
}

// DefaultFusionProviderConfig returns a FusionProviderConfig with default values.
func DefaultFusionProviderConfig() FusionProviderConfig {
	return FusionProviderConfig{Provider: FusionProviderAuto}
}

// DeviceCalibrationConfig overrides the camera intrinsics reported by the
// driver, for hosts with an external calibration source.
type DeviceCalibrationConfig struct {
	Intrinsics core.CameraIntrinsics
}

// DefaultDeviceCalibrationConfig returns a DeviceCalibrationConfig with default values.
func DefaultDeviceCalibrationConfig() DeviceCalibrationConfig {
	return DeviceCalibrationConfig{}
}

// ConfigSet is an ordered, append-only collection of configuration blocks
// consumed exactly once by Create. Adding a block performs structural
// validation only; cross-block validation happens at creation, where the
// error code identifies the failing block.
type ConfigSet struct {
	license     *LicenseConfig
	render      *RenderConfig
	driver      *DriverConfig
	platform    *PlatformConfig
	fusion      *FusionProviderConfig
	calibration *DeviceCalibrationConfig
	size        int
}

// NewConfigSet returns an empty configuration set.
func NewConfigSet() *ConfigSet { return &ConfigSet{} }

// Len returns the number of blocks added so far.
func (cs *ConfigSet) Len() int { return cs.size }

// AddLicenseConfig appends a license block. An empty key is accepted here;
// it fails at creation with the license-specific error code.
func (cs *ConfigSet) AddLicenseConfig(c LicenseConfig) error {
	cs.license = &c
	cs.size++
	return nil
}

// AddRenderConfig appends a render block.
func (cs *ConfigSet) AddRenderConfig(c RenderConfig) error {
	switch c.Backend {
	case RenderBackendDefault, RenderBackendOpenGLES, RenderBackendHeadless:
	default:
		return newError(ErrorCodeInvalidConfig, "render config: unknown backend %d", c.Backend)
	}
	if c.NearPlane >= c.FarPlane {
		return newError(ErrorCodeInvalidConfig, "render config: near plane %v not before far plane %v", c.NearPlane, c.FarPlane)
	}
	cs.render = &c
	cs.size++
	return nil
}

// AddDriverConfig appends a driver block. The driver must be non-nil.
func (cs *ConfigSet) AddDriverConfig(c DriverConfig) error {
	if c.Driver == nil {
		return newError(ErrorCodeInvalidConfig, "driver config: nil driver")
	}
	cs.driver = &c
	cs.size++
	return nil
}

// AddPlatformConfig appends a platform block.
func (cs *ConfigSet) AddPlatformConfig(c PlatformConfig) error {
	cs.platform = &c
	cs.size++
	return nil
}

// AddFusionProviderConfig appends a fusion provider block.
func (cs *ConfigSet) AddFusionProviderConfig(c FusionProviderConfig) error {
	switch c.Provider {
	case FusionProviderAuto, FusionProviderVisionOnly, FusionProviderSensors:
	default:
		return newError(ErrorCodeInvalidConfig, "fusion config: unknown provider %d", c.Provider)
	}
	cs.fusion = &c
	cs.size++
	return nil
}

// AddDeviceCalibrationConfig appends a device calibration block.
func (cs *ConfigSet) AddDeviceCalibrationConfig(c DeviceCalibrationConfig) error {
	if c.Intrinsics.Size[0] <= 0 || c.Intrinsics.Size[1] <= 0 {
		return newError(ErrorCodeInvalidConfig, "calibration config: invalid frame size %v", c.Intrinsics.Size)
	}
	cs.calibration = &c
	cs.size++
	return nil
}
