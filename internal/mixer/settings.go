// ABOUTME: Mixer tunables with defaults, YAML loading and validation
// ABOUTME: Includes zones, per-zone-pair attenuation and reverb zones
package mixer

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"github.com/Resonate-Protocol/resonate-mixer/pkg/audio"
)

var ErrInvalidSettings = errors.New("invalid mixer settings")

// Zone is a named axis-aligned box
type Zone struct {
	Name string     `yaml:"name"`
	Min  mgl32.Vec3 `yaml:"min"`
	Max  mgl32.Vec3 `yaml:"max"`
}

// Contains reports whether p lies inside the zone, bounds included
func (z Zone) Contains(p mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < z.Min[i] || p[i] > z.Max[i] {
			return false
		}
	}
	return true
}

// ZoneAttenuation overrides the attenuation per doubling for sources in
// one zone heard by listeners in another
type ZoneAttenuation struct {
	Source      string  `yaml:"source"`
	Listener    string  `yaml:"listener"`
	Coefficient float32 `yaml:"coefficient"`
}

// ReverbZone attaches reverb parameters to listeners inside a zone
type ReverbZone struct {
	Zone       string  `yaml:"zone"`
	ReverbTime float32 `yaml:"reverb_time"`
	WetLevel   float32 `yaml:"wet_level"`
}

// Settings holds every mixer tunable
type Settings struct {
	FrameInterval        time.Duration `yaml:"frame_interval"`
	DesiredJitterFrames  int           `yaml:"desired_jitter_frames"`
	BufferCapacityFrames int           `yaml:"buffer_capacity_frames"`
	PoolSize             int           `yaml:"pool_size"`

	ControllerWindowFrames  int     `yaml:"controller_window_frames"`
	StruggleThreshold       float32 `yaml:"struggle_threshold"`
	RecoveryThreshold       float32 `yaml:"recovery_threshold"`
	CutoffStep              float32 `yaml:"cutoff_step"`
	BaseAudibilityThreshold float32 `yaml:"base_audibility_threshold"`

	OffAxisConeAngle       float32 `yaml:"off_axis_cone_angle"` // radians
	OffAxisMinGain         float32 `yaml:"off_axis_min_gain"`
	AttenuationPerDoubling float32 `yaml:"attenuation_per_doubling"`

	MaxConsecutiveRepeats int `yaml:"max_consecutive_repeats"`
	SpatializerIdleFrames int `yaml:"spatializer_idle_frames"`
	InjectorStarveFrames  int `yaml:"injector_starve_frames"`

	StatsIntervalFrames    int     `yaml:"stats_interval_frames"`
	EnvironmentProbability float32 `yaml:"environment_probability"`

	Zones            []Zone            `yaml:"zones"`
	ZoneAttenuations []ZoneAttenuation `yaml:"zone_attenuations"`
	ReverbZones      []ReverbZone      `yaml:"reverb_zones"`
}

// DefaultSettings returns the settings used when no file overrides them
func DefaultSettings() Settings {
	return Settings{
		FrameInterval:        audio.FrameInterval,
		DesiredJitterFrames:  1,
		BufferCapacityFrames: 100,
		PoolSize:             1,

		ControllerWindowFrames:  100,
		StruggleThreshold:       0.10,
		RecoveryThreshold:       0.20,
		CutoffStep:              0.02,
		BaseAudibilityThreshold: 1e-4,

		OffAxisConeAngle:       math.Pi / 8,
		OffAxisMinGain:         0.2,
		AttenuationPerDoubling: 0.5,

		MaxConsecutiveRepeats: 10,
		SpatializerIdleFrames: 100,
		InjectorStarveFrames:  100,

		StatsIntervalFrames:    100,
		EnvironmentProbability: 0.01,
	}
}

// LoadSettings reads a YAML file over DefaultSettings and validates the result
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Validate checks ranges and zone references
func (s *Settings) Validate() error {
	var problems []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}

	check(s.FrameInterval > 0, "frame_interval must be positive")
	check(s.DesiredJitterFrames >= 1, "desired_jitter_frames must be at least 1")
	check(s.BufferCapacityFrames > s.DesiredJitterFrames, "buffer_capacity_frames must exceed desired_jitter_frames")
	check(s.PoolSize >= 1, "pool_size must be at least 1")
	check(s.ControllerWindowFrames >= 1, "controller_window_frames must be at least 1")
	check(s.CutoffStep > 0 && s.CutoffStep < 0.5, "cutoff_step must be in (0, 0.5)")
	check(s.StruggleThreshold >= 0 && s.StruggleThreshold < s.RecoveryThreshold && s.RecoveryThreshold <= 1,
		"thresholds must satisfy 0 <= struggle < recovery <= 1")
	check(s.BaseAudibilityThreshold >= 0, "base_audibility_threshold must not be negative")
	check(s.OffAxisConeAngle >= 0 && s.OffAxisConeAngle < math.Pi, "off_axis_cone_angle must be in [0, pi)")
	check(s.OffAxisMinGain >= 0 && s.OffAxisMinGain <= 1, "off_axis_min_gain must be in [0, 1]")
	check(validCoefficient(s.AttenuationPerDoubling), "attenuation_per_doubling must be in [0, 1)")
	check(s.MaxConsecutiveRepeats >= 0, "max_consecutive_repeats must not be negative")
	check(s.SpatializerIdleFrames >= 1, "spatializer_idle_frames must be at least 1")
	check(s.InjectorStarveFrames >= 1, "injector_starve_frames must be at least 1")
	check(s.StatsIntervalFrames >= 1, "stats_interval_frames must be at least 1")
	check(s.EnvironmentProbability >= 0 && s.EnvironmentProbability <= 1, "environment_probability must be in [0, 1]")

	names := make(map[string]bool, len(s.Zones))
	for _, z := range s.Zones {
		check(z.Name != "", "zone name must not be empty")
		check(!names[z.Name], "duplicate zone %q", z.Name)
		names[z.Name] = true
		for i := 0; i < 3; i++ {
			check(z.Min[i] <= z.Max[i], "zone %q has min above max", z.Name)
		}
	}
	for _, za := range s.ZoneAttenuations {
		check(names[za.Source], "zone attenuation references unknown source zone %q", za.Source)
		check(names[za.Listener], "zone attenuation references unknown listener zone %q", za.Listener)
		check(validCoefficient(za.Coefficient), "zone attenuation %s->%s coefficient must be in [0, 1)", za.Source, za.Listener)
	}
	for _, rz := range s.ReverbZones {
		check(names[rz.Zone], "reverb references unknown zone %q", rz.Zone)
		check(rz.ReverbTime >= 0, "reverb time for %q must not be negative", rz.Zone)
		check(rz.WetLevel >= 0 && rz.WetLevel <= 1, "wet level for %q must be in [0, 1]", rz.Zone)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(problems...))
	}
	return nil
}

func validCoefficient(c float32) bool {
	return c >= 0 && c < 1
}

// ZoneAt returns the name of the first zone containing p, or ""
func (s *Settings) ZoneAt(p mgl32.Vec3) string {
	for _, z := range s.Zones {
		if z.Contains(p) {
			return z.Name
		}
	}
	return ""
}

// AttenuationFor returns the attenuation per doubling for a zone pair,
// falling back to the global default
func (s *Settings) AttenuationFor(sourceZone, listenerZone string) float32 {
	if sourceZone != "" && listenerZone != "" {
		for _, za := range s.ZoneAttenuations {
			if za.Source == sourceZone && za.Listener == listenerZone {
				return za.Coefficient
			}
		}
	}
	return s.AttenuationPerDoubling
}

// ReverbAt returns the reverb for a listener zone
func (s *Settings) ReverbAt(zone string) (ReverbZone, bool) {
	if zone == "" {
		return ReverbZone{}, false
	}
	for _, rz := range s.ReverbZones {
		if rz.Zone == zone {
			return rz, true
		}
	}
	return ReverbZone{}, false
}
