// Package fake implements a synthetic depth sensor that looks down on a rippled soil bed.
package fake

import (
	"context"
	"math"
	"math/rand"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/soilbed/armctl/depthsensor"
	"github.com/soilbed/armctl/pointcloud"
)

// Config describes the synthetic surface. Distances are in the camera's units (metres).
type Config struct {
	Seed       int64
	Columns    int
	Rows       int
	Spacing    float64
	Depth      float64
	Ripple     float64
	Noise      float64
	CaptureErr error
}

// DefaultConfig is a 40x40 grid, 1cm apart, 0.6m below the camera.
func DefaultConfig() Config {
	return Config{
		Seed:    1,
		Columns: 40,
		Rows:    40,
		Spacing: 0.01,
		Depth:   0.6,
		Ripple:  0.005,
		Noise:   0.0005,
	}
}

// Sensor is a deterministic fake depth sensor.
type Sensor struct {
	cfg      Config
	rand     *rand.Rand
	clock    clock.Clock
	captures atomic.Int64
	closed   atomic.Bool
}

// NewSensor returns a fake sensor.
func NewSensor(cfg Config, clk clock.Clock) *Sensor {
	if clk == nil {
		clk = clock.New()
	}
	//nolint:gosec
	return &Sensor{cfg: cfg, rand: rand.New(rand.NewSource(cfg.Seed)), clock: clk}
}

// NewFactory returns a factory producing fake sensors with the given config.
func NewFactory(cfg Config, clk clock.Clock) depthsensor.Factory {
	return func(ctx context.Context) (depthsensor.Sensor, error) {
		return NewSensor(cfg, clk), nil
	}
}

// Capture returns one noisy snapshot of the surface.
func (s *Sensor) Capture(ctx context.Context) (*pointcloud.PointSet, error) {
	if s.closed.Load() {
		return nil, errors.New("fake sensor is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.CaptureErr != nil {
		return nil, s.cfg.CaptureErr
	}
	s.captures.Inc()

	ps := pointcloud.NewWithPrealloc(s.clock.Now(), s.cfg.Columns*s.cfg.Rows)
	for row := 0; row < s.cfg.Rows; row++ {
		for col := 0; col < s.cfg.Columns; col++ {
			x := float64(col) * s.cfg.Spacing
			y := float64(row) * s.cfg.Spacing
			z := s.cfg.Depth + s.cfg.Ripple*math.Sin(x*40)*math.Cos(y*25) + s.cfg.Noise*s.rand.NormFloat64()
			ps.Add(r3.Vector{X: x, Y: y, Z: z})
		}
	}
	return ps, nil
}

// Captures returns how many snapshots were taken.
func (s *Sensor) Captures() int64 {
	return s.captures.Load()
}

// Close implements depthsensor.Sensor.
func (s *Sensor) Close() error {
	s.closed.Store(true)
	return nil
}
