// Package config reads the armctl configuration file and applies environment overrides.
package config

import (
	"encoding/json"
	"math"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gonum.org/v1/gonum/num/quat"

	"github.com/soilbed/armctl/arm"
	"github.com/soilbed/armctl/control"
	"github.com/soilbed/armctl/executor"
	"github.com/soilbed/armctl/logging"
	"github.com/soilbed/armctl/protocol"
	"github.com/soilbed/armctl/transport"
	"github.com/soilbed/armctl/trajectory"
	"github.com/soilbed/armctl/trigger"
)

// Environment variables that override the file.
const (
	EnvDataDir       = "ARMCTL_DATA_DIR"
	EnvLogLevel      = "ARMCTL_LOG_LEVEL"
	EnvLogFile       = "ARMCTL_LOG_FILE"
	EnvReadTimeout   = "ARMCTL_READ_TIMEOUT"
	EnvSampleEvery   = "ARMCTL_SAMPLE_EVERY"
	EnvProfilePrefix = "ARMCTL_PROFILE_"
)

// DefaultProfile is used when no profile is named.
const DefaultProfile = "local"

// Config is the full armctl configuration.
type Config struct {
	ConfigFilePath string `json:"-"`

	// Profiles maps a profile name to a robot controller address.
	Profiles     map[string]string `json:"profiles"`
	DataDir      string            `json:"data_dir"`
	ReadTimeout  time.Duration     `json:"read_timeout"`
	Log          LogConfig         `json:"log"`
	Camera       CameraConfig      `json:"camera"`
	Passband     trigger.Passband  `json:"passband"`
	Executor     ExecutorConfig    `json:"executor"`
	Force        ForceConfig       `json:"force"`
	Trajectories TrajectoryConfig  `json:"trajectories"`
	Simulator    SimulatorConfig   `json:"simulator"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level logging.Level `json:"level"`
	// File, when set, receives a rotated copy of every log line.
	File string `json:"file"`
}

// CameraConfig places the depth camera relative to the robot base.
type CameraConfig struct {
	Position    [3]float64 `json:"position"`
	Orientation [3]float64 `json:"orientation"`
	Scale       float64    `json:"scale"`
}

// ExecutorConfig holds the per-run timing parameters.
type ExecutorConfig struct {
	SampleEvery  int           `json:"sample_every"`
	WarmUp       time.Duration `json:"warm_up"`
	PollInterval time.Duration `json:"poll_interval"`
	Home         HomeConfig    `json:"home"`
}

// HomeConfig is the home pose. Orientation is a quaternion in w, x, y, z order.
type HomeConfig struct {
	Position    [3]float64 `json:"position"`
	Orientation [4]float64 `json:"orientation"`
	FastSpeed   float64    `json:"fast_speed"`
	SlowSpeed   float64    `json:"slow_speed"`
}

// ForceConfig is the default force-control setup used by `run --force`.
type ForceConfig struct {
	Axis       string         `json:"axis"`
	Target     float64        `json:"target"`
	Controller control.Config `json:"controller"`
}

// TrajectoryConfig configures the trajectory library.
type TrajectoryConfig struct {
	Height       float64 `json:"height"`
	CustomDir    string  `json:"custom_dir"`
	CustomHeight float64 `json:"custom_height"`
}

// SimulatorConfig configures `armctl simulate`.
type SimulatorConfig struct {
	Listen    string  `json:"listen"`
	SurfaceZ  float64 `json:"surface_z"`
	Stiffness float64 `json:"stiffness"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	home := arm.DefaultHomeConfig()
	return &Config{
		Profiles: map[string]string{
			"local":  "127.0.0.1:8888",
			"remote": "192.168.125.1:8888",
		},
		DataDir:     "data",
		ReadTimeout: transport.DefaultReadTimeout,
		Log:         LogConfig{Level: logging.INFO},
		Camera: CameraConfig{
			Position:    [3]float64{250, 250, 250},
			Orientation: [3]float64{0.785, math.Pi, 0},
			Scale:       0.001,
		},
		Passband: trigger.Passband{MinX: -10, MaxX: 2000, MinY: -10, MaxY: 2000, MinZ: -150, MaxZ: 200},
		Executor: ExecutorConfig{
			SampleEvery: executor.DefaultSampleEvery,
			WarmUp:      executor.DefaultWarmUp,
			Home: HomeConfig{
				Position:    [3]float64{home.Position.X, home.Position.Y, home.Position.Z},
				Orientation: [4]float64{home.Orientation.Real, home.Orientation.Imag, home.Orientation.Jmag, home.Orientation.Kmag},
				FastSpeed:   home.FastSpeed,
				SlowSpeed:   home.SlowSpeed,
			},
		},
		Force: ForceConfig{
			Axis:       protocol.AxisZ.String(),
			Target:     10,
			Controller: control.Config{Type: control.TypePolarity},
		},
		Trajectories: TrajectoryConfig{
			Height:       trajectory.DefaultZ,
			CustomDir:    "custom",
			CustomHeight: trajectory.DefaultCustomHeight,
		},
		Simulator: SimulatorConfig{
			Listen:    "127.0.0.1:8888",
			SurfaceZ:  160,
			Stiffness: 2,
		},
	}
}

// Read reads a config from the given file, applies environment overrides and validates it.
// ${VAR} references in the file are expanded from the environment first. An empty path yields the
// defaults with overrides applied.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		buf, err := envsubst.ReadFile(filePath)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %q", filePath)
		}
		if err := decode(buf, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to decode config %q", filePath)
		}
		cfg.ConfigFilePath = filePath
	}
	if err := cfg.applyEnv(logger); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads KEY=value pairs from the given .env files into the environment. Missing files
// are skipped; variables already set are left alone.
func LoadEnv(logger logging.Logger, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "loading %s", f)
		}
		logger.Debugw("loaded environment file", "file", f)
	}
	return nil
}

func decode(buf []byte, cfg *Config) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(buf, &raw); err != nil {
		return err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			levelHook,
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func levelHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(logging.Level(0)) || from.Kind() != reflect.String {
		return data, nil
	}
	return logging.LevelFromString(data.(string))
}

func (c *Config) applyEnv(logger logging.Logger) error {
	if v, ok := os.LookupEnv(EnvDataDir); ok {
		c.DataDir = v
	}
	if v, ok := os.LookupEnv(EnvLogFile); ok {
		c.Log.File = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		level, err := logging.LevelFromString(v)
		if err != nil {
			return errors.Wrap(err, EnvLogLevel)
		}
		c.Log.Level = level
	}
	if v, ok := os.LookupEnv(EnvReadTimeout); ok {
		timeout, err := cast.ToDurationE(v)
		if err != nil {
			return errors.Wrap(err, EnvReadTimeout)
		}
		c.ReadTimeout = timeout
	}
	if v, ok := os.LookupEnv(EnvSampleEvery); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return errors.Wrap(err, EnvSampleEvery)
		}
		c.Executor.SampleEvery = n
	}
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvProfilePrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, EnvProfilePrefix))
		if name == "" {
			continue
		}
		if c.Profiles == nil {
			c.Profiles = map[string]string{}
		}
		c.Profiles[name] = cast.ToString(value)
		logger.Debugw("profile overridden from environment", "profile", name)
	}
	return nil
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.ReadTimeout <= 0 {
		return errors.Errorf("read_timeout must be positive, got %s", c.ReadTimeout)
	}
	if c.Executor.SampleEvery <= 0 {
		return errors.Errorf("executor.sample_every must be positive, got %d", c.Executor.SampleEvery)
	}
	if c.Executor.PollInterval < 0 {
		return errors.New("executor.poll_interval must not be negative")
	}
	if c.Camera.Scale <= 0 {
		return errors.Errorf("camera.scale must be positive, got %v", c.Camera.Scale)
	}
	if c.Passband.MinX > c.Passband.MaxX || c.Passband.MinY > c.Passband.MaxY || c.Passband.MinZ > c.Passband.MaxZ {
		return errors.New("passband minimums must not exceed maximums")
	}
	if _, err := protocol.ParseAxis(c.Force.Axis); err != nil {
		return errors.Wrap(err, "force.axis")
	}
	if _, err := control.New(c.Force.Controller); err != nil {
		return errors.Wrap(err, "force.controller")
	}
	for name, addr := range c.Profiles {
		if addr == "" {
			return errors.Errorf("profile %q has no address", name)
		}
	}
	return nil
}

// Address resolves a profile name to an address. Names that look like host:port are returned as is.
func (c *Config) Address(profile string) (string, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	if addr, ok := c.Profiles[strings.ToLower(profile)]; ok {
		return addr, nil
	}
	if strings.Contains(profile, ":") {
		return profile, nil
	}
	return "", errors.Errorf("unknown profile %q, have %v", profile, c.ProfileNames())
}

// ProfileNames returns the configured profile names, sorted.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calibration returns the camera calibration applied to every capture.
func (c *Config) Calibration() trigger.Calibration {
	return trigger.Calibration{
		Scale:       c.Camera.Scale,
		Yaw:         c.Camera.Orientation[0],
		Pitch:       c.Camera.Orientation[1],
		Roll:        c.Camera.Orientation[2],
		Translation: r3.Vector{X: c.Camera.Position[0], Y: c.Camera.Position[1], Z: c.Camera.Position[2]},
		Passband:    c.Passband,
	}
}

// Home returns the configured home pose.
func (c *Config) Home() arm.HomeConfig {
	h := c.Executor.Home
	return arm.HomeConfig{
		Position:    r3.Vector{X: h.Position[0], Y: h.Position[1], Z: h.Position[2]},
		Orientation: quat.Number{Real: h.Orientation[0], Imag: h.Orientation[1], Jmag: h.Orientation[2], Kmag: h.Orientation[3]},
		FastSpeed:   h.FastSpeed,
		SlowSpeed:   h.SlowSpeed,
	}
}

// ExecutorConfig returns the executor settings.
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		DataDir:      c.DataDir,
		SampleEvery:  c.Executor.SampleEvery,
		WarmUp:       c.Executor.WarmUp,
		PollInterval: c.Executor.PollInterval,
		Home:         c.Home(),
	}
}

// ForceRequest returns the configured force setup. target overrides the configured target when
// non-nil.
func (c *Config) ForceRequest(target *float64) (*executor.ForceRequest, error) {
	axis, err := protocol.ParseAxis(c.Force.Axis)
	if err != nil {
		return nil, err
	}
	req := &executor.ForceRequest{Axis: axis, Target: c.Force.Target, Controller: c.Force.Controller}
	if target != nil {
		req.Target = *target
	}
	return req, nil
}

// Library returns the preset trajectories plus any custom trajectories found on disk.
func (c *Config) Library(logger logging.Logger) *trajectory.Library {
	lib := trajectory.NewLibrary(trajectory.DefaultPresets(c.Trajectories.Height))
	if c.Trajectories.CustomDir == "" {
		return lib
	}
	loader := trajectory.NewCustomLoader(c.Trajectories.CustomDir)
	loader.DefaultHeight = c.Trajectories.CustomHeight
	names, err := loader.Register(lib)
	if err != nil {
		logger.Warnw("could not load custom trajectories", "dir", c.Trajectories.CustomDir, "error", err)
		return lib
	}
	if len(names) > 0 {
		logger.Debugw("loaded custom trajectories", "names", names)
	}
	return lib
}
