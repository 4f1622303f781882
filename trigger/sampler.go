package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/soilbed/armctl/depthsensor"
	"github.com/soilbed/armctl/logging"
	"github.com/soilbed/armctl/pointcloud"
)

// Passband is an inclusive box outside of which captured points are dropped.
type Passband struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
	MinZ float64 `json:"min_z"`
	MaxZ float64 `json:"max_z"`
}

// Calibration places camera points in the robot frame.
type Calibration struct {
	Scale       float64
	Yaw         float64
	Pitch       float64
	Roll        float64
	Translation r3.Vector
	Passband    Passband
}

// Apply scales, rotates, translates then filters ps in place.
func (c Calibration) Apply(ps *pointcloud.PointSet) *pointcloud.PointSet {
	return ps.Scale(c.Scale).
		Rotate(c.Yaw, c.Pitch, c.Roll).
		Translate(c.Translation.X, c.Translation.Y, c.Translation.Z).
		PassbandFilter(c.Passband.MinX, c.Passband.MaxX, c.Passband.MinY, c.Passband.MaxY, c.Passband.MinZ, c.Passband.MaxZ)
}

// SamplerConfig is everything a Sampler owns.
type SamplerConfig struct {
	Sensor      depthsensor.Factory
	Calibration Calibration
	// Prefix is the path prefix of every saved file, e.g. "data/trial/pcl_trial".
	Prefix string
	WarmUp time.Duration
}

// Sampler consumes triggers, captures snapshots and saves them.
type Sampler struct {
	cfg    SamplerConfig
	logger logging.Logger

	sampleIndex int
	saved       []string
}

// NewSampler returns a sampler that owns cfg.
func NewSampler(cfg SamplerConfig, logger logging.Logger) *Sampler {
	return &Sampler{cfg: cfg, logger: logger}
}

// Run initialises the sensor and handles triggers until Stop is received, ctx is done, or a
// capture cannot be saved. The queue is closed on return.
func (s *Sampler) Run(ctx context.Context, queue *Queue) (err error) {
	defer queue.Close()

	sensor, err := s.cfg.Sensor(ctx)
	if err != nil {
		return errors.Wrap(err, "initialising depth sensor")
	}
	defer func() {
		err = multierr.Combine(err, sensor.Close())
	}()

	for {
		code, err := queue.Recv(ctx)
		if err != nil {
			return err
		}

		switch code {
		case Stop:
			s.logger.Debugw("sampler stopping", "saved", len(s.saved))
			return nil
		case WarmUp:
			if s.cfg.WarmUp > 0 && !goutils.SelectContextOrWait(ctx, s.cfg.WarmUp) {
				return ctx.Err()
			}
			if _, err := sensor.Capture(ctx); err != nil {
				s.logger.Warnw("warm-up capture failed", "error", err)
			}
			continue
		case Sample, MarkStart, MarkEnd:
		default:
			s.logger.Warnw("unknown trigger, saving with the current index", "code", int(code))
		}

		ps, err := sensor.Capture(ctx)
		if err != nil {
			s.logger.Warnw("capture failed, skipping trigger", "code", code, "error", err)
			continue
		}
		n := ps.Size()
		s.cfg.Calibration.Apply(ps)

		path, err := ps.SaveToFile(s.filePrefix(code))
		if err != nil {
			return errors.Wrapf(err, "saving %s capture", code)
		}
		s.saved = append(s.saved, path)
		s.logger.Debugw("saved capture", "path", path, "captured", n, "kept", ps.Size())
		if code == Sample {
			s.sampleIndex++
		}
	}
}

func (s *Sampler) filePrefix(code Code) string {
	switch code {
	case MarkStart:
		return s.cfg.Prefix + "_START"
	case MarkEnd:
		return s.cfg.Prefix + "_END"
	case Stop, Sample, WarmUp:
	}
	return fmt.Sprintf("%s_%d", s.cfg.Prefix, s.sampleIndex)
}

// Saved returns the paths written so far. It must only be read after Run has returned.
func (s *Sampler) Saved() []string {
	return append([]string(nil), s.saved...)
}
