// Package config loads the engined host configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Targets   []TargetConfig  `yaml:"targets"`
	Observers ObserversConfig `yaml:"observers"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type EngineConfig struct {
	LicenseKey string `yaml:"license_key"`
	AppName    string `yaml:"app_name"`
	FrameRate  int    `yaml:"frame_rate"`
	DeviceSway bool   `yaml:"device_sway"`
}

// TargetConfig scripts one synthetic target and the observer tracking it.
type TargetConfig struct {
	Name         string  `yaml:"name"`
	Kind         string  `yaml:"kind"` // "image" or "model"
	Distance     float32 `yaml:"distance"`
	OrbitRadius  float32 `yaml:"orbit_radius"`
	OrbitPeriod  int64   `yaml:"orbit_period"`
	VisibleFrom  int64   `yaml:"visible_from"`
	VisibleUntil int64   `yaml:"visible_until"`
	Confidence   float64 `yaml:"confidence"`
	Activate     *bool   `yaml:"activate"` // nil means true
}

type ObserversConfig struct {
	DevicePose bool           `yaml:"device_pose"`
	Anchors    []AnchorConfig `yaml:"anchors"`
}

type AnchorConfig struct {
	Name     string     `yaml:"name"`
	Position [3]float32 `yaml:"position"`
}

type BroadcastConfig struct {
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MaxClients       int           `yaml:"max_clients"` // 0 means unlimited
}

// Load reads the config file at path, applying defaults for anything the
// file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8421,
			Host: "0.0.0.0",
		},
		Engine: EngineConfig{
			AppName:   "engined",
			FrameRate: 30,
		},
		Observers: ObserversConfig{
			DevicePose: true,
		},
		Broadcast: BroadcastConfig{
			Throttle:         100 * time.Millisecond,
			SnapshotInterval: 5 * time.Second,
		},
	}
}

// Validate rejects configurations the host cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.FrameRate <= 0 {
		return fmt.Errorf("engine.frame_rate must be positive, got %d", c.Engine.FrameRate)
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("targets[%d]: missing name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("targets[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
		switch t.Kind {
		case "", "image", "model":
		default:
			return fmt.Errorf("targets[%d]: unknown kind %q", i, t.Kind)
		}
	}
	return nil
}

// ShouldActivate reports whether the target's observer should auto-activate.
func (t TargetConfig) ShouldActivate() bool {
	return t.Activate == nil || *t.Activate
}
