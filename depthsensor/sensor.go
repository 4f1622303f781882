// Package depthsensor defines the depth camera used to capture terrain snapshots.
package depthsensor

import (
	"context"

	"github.com/soilbed/armctl/pointcloud"
)

// Sensor captures point sets. A Sensor is owned by a single goroutine.
type Sensor interface {
	// Capture returns one snapshot in the camera's own frame.
	Capture(ctx context.Context) (*pointcloud.PointSet, error)
	Close() error
}

// Factory initialises a sensor. It is called on the goroutine that will own the sensor.
type Factory func(ctx context.Context) (Sensor, error)
