package inject

import (
	"context"

	"go.uber.org/atomic"

	"github.com/soilbed/armctl/depthsensor"
	"github.com/soilbed/armctl/pointcloud"
)

// Sensor is an injected depth sensor.
type Sensor struct {
	depthsensor.Sensor
	CaptureFunc func(ctx context.Context) (*pointcloud.PointSet, error)
	CloseFunc   func() error

	closeCount atomic.Int32
}

// Capture calls the injected Capture or the real version.
func (s *Sensor) Capture(ctx context.Context) (*pointcloud.PointSet, error) {
	if s.CaptureFunc == nil {
		return s.Sensor.Capture(ctx)
	}
	return s.CaptureFunc(ctx)
}

// Close calls the injected Close or the real version.
func (s *Sensor) Close() error {
	s.closeCount.Inc()
	if s.CloseFunc == nil {
		if s.Sensor == nil {
			return nil
		}
		return s.Sensor.Close()
	}
	return s.CloseFunc()
}

// CloseCount returns how many times Close was called.
func (s *Sensor) CloseCount() int {
	return int(s.closeCount.Load())
}
