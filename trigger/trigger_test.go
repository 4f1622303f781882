package trigger

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/soilbed/armctl/depthsensor"
	"github.com/soilbed/armctl/depthsensor/fake"
	"github.com/soilbed/armctl/logging"
	"github.com/soilbed/armctl/pointcloud"
	"github.com/soilbed/armctl/testutils"
	"github.com/soilbed/armctl/testutils/inject"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

func openCalibration() Calibration {
	inf := math.Inf(1)
	return Calibration{
		Scale:    1,
		Passband: Passband{MinX: -inf, MaxX: inf, MinY: -inf, MaxY: inf, MinZ: -inf, MaxZ: inf},
	}
}

func TestQueueOrderAndReceiverGone(t *testing.T) {
	q := NewQueue()
	for _, code := range []Code{WarmUp, MarkStart, Sample, MarkEnd, Stop} {
		test.That(t, q.Send(code), test.ShouldBeNil)
	}
	test.That(t, q.Len(), test.ShouldEqual, 5)

	var got []Code
	for i := 0; i < 5; i++ {
		code, err := q.Recv(context.Background())
		test.That(t, err, test.ShouldBeNil)
		got = append(got, code)
	}
	test.That(t, got, test.ShouldResemble, []Code{WarmUp, MarkStart, Sample, MarkEnd, Stop})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Recv(ctx)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)

	q.Close()
	test.That(t, errors.Is(q.Send(Sample), ErrReceiverGone), test.ShouldBeTrue)
}

func TestQueueWakesReceiver(t *testing.T) {
	q := NewQueue()
	received := make(chan Code, 1)
	go func() {
		code, err := q.Recv(context.Background())
		if err == nil {
			received <- code
		}
	}()
	time.Sleep(10 * time.Millisecond)
	test.That(t, q.Send(MarkEnd), test.ShouldBeNil)
	test.That(t, <-received, test.ShouldEqual, MarkEnd)
}

func TestTriggerSequence(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	sensor := fake.NewSensor(fake.DefaultConfig(), nil)
	sampler := NewSampler(SamplerConfig{
		Sensor: func(ctx context.Context) (depthsensor.Sensor, error) {
			return sensor, nil
		},
		Calibration: openCalibration(),
		Prefix:      filepath.Join(dir, "pcl_trial"),
	}, logger)

	q := NewQueue()
	for _, code := range []Code{4, 2, 1, 1, 1, 3, 0} {
		test.That(t, q.Send(code), test.ShouldBeNil)
	}
	test.That(t, sampler.Run(context.Background(), q), test.ShouldBeNil)

	// One discard plus five saved captures.
	test.That(t, sensor.Captures(), test.ShouldEqual, 6)
	test.That(t, sampler.Saved(), test.ShouldResemble, []string{
		filepath.Join(dir, "pcl_trial_START.pcd"),
		filepath.Join(dir, "pcl_trial_0.pcd"),
		filepath.Join(dir, "pcl_trial_1.pcd"),
		filepath.Join(dir, "pcl_trial_2.pcd"),
		filepath.Join(dir, "pcl_trial_END.pcd"),
	})
	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 5)

	// The receiver is gone once Run returns.
	test.That(t, errors.Is(q.Send(Sample), ErrReceiverGone), test.ShouldBeTrue)
}

func TestUnknownCodeUsesCurrentIndex(t *testing.T) {
	dir := t.TempDir()
	sampler := NewSampler(SamplerConfig{
		Sensor:      fake.NewFactory(fake.DefaultConfig(), nil),
		Calibration: openCalibration(),
		Prefix:      filepath.Join(dir, "pcl"),
	}, logging.NewTestLogger(t))

	q := NewQueue()
	for _, code := range []Code{1, 9, 1, 0} {
		test.That(t, q.Send(code), test.ShouldBeNil)
	}
	test.That(t, sampler.Run(context.Background(), q), test.ShouldBeNil)

	saved := sampler.Saved()
	test.That(t, saved, test.ShouldHaveLength, 3)
	test.That(t, saved[0], test.ShouldEqual, filepath.Join(dir, "pcl_0.pcd"))
	// The unknown code overwrites the file the next sample will use.
	test.That(t, saved[1], test.ShouldEqual, filepath.Join(dir, "pcl_1.pcd"))
	test.That(t, saved[2], test.ShouldEqual, filepath.Join(dir, "pcl_1.pcd"))
}

func TestCalibrationApplied(t *testing.T) {
	dir := t.TempDir()
	sensor := &inject.Sensor{
		CaptureFunc: func(ctx context.Context) (*pointcloud.PointSet, error) {
			ps := pointcloud.New(time.Now())
			ps.Add(r3.Vector{X: 1000, Y: 0, Z: 0})
			ps.Add(r3.Vector{X: 5000, Y: 0, Z: 0})
			return ps, nil
		},
	}
	sampler := NewSampler(SamplerConfig{
		Sensor: func(ctx context.Context) (depthsensor.Sensor, error) { return sensor, nil },
		Calibration: Calibration{
			Scale:       0.001,
			Translation: r3.Vector{X: 250, Y: 250, Z: 250},
			Passband:    Passband{MinX: 0, MaxX: 252, MinY: 0, MaxY: 300, MinZ: 0, MaxZ: 300},
		},
		Prefix: filepath.Join(dir, "pcl"),
	}, logging.NewTestLogger(t))

	q := NewQueue()
	test.That(t, q.Send(MarkStart), test.ShouldBeNil)
	test.That(t, q.Send(Stop), test.ShouldBeNil)
	test.That(t, sampler.Run(context.Background(), q), test.ShouldBeNil)
	test.That(t, sensor.CloseCount(), test.ShouldEqual, 1)

	ps, err := pointcloud.ReadFromFile(filepath.Join(dir, "pcl_START.pcd"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ps.Size(), test.ShouldEqual, 1)
	test.That(t, ps.Points[0].X, test.ShouldAlmostEqual, 251)
	test.That(t, ps.Points[0].Y, test.ShouldAlmostEqual, 250)
}

func TestCaptureFailureSkipsTrigger(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	sensor := &inject.Sensor{
		CaptureFunc: func(ctx context.Context) (*pointcloud.PointSet, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("frame dropped")
			}
			ps := pointcloud.New(time.Now())
			ps.Add(r3.Vector{X: 1})
			return ps, nil
		},
	}
	sampler := NewSampler(SamplerConfig{
		Sensor:      func(ctx context.Context) (depthsensor.Sensor, error) { return sensor, nil },
		Calibration: openCalibration(),
		Prefix:      filepath.Join(dir, "pcl"),
	}, logging.NewTestLogger(t))

	q := NewQueue()
	for _, code := range []Code{Sample, Sample, Stop} {
		test.That(t, q.Send(code), test.ShouldBeNil)
	}
	test.That(t, sampler.Run(context.Background(), q), test.ShouldBeNil)
	test.That(t, sampler.Saved(), test.ShouldResemble, []string{filepath.Join(dir, "pcl_0.pcd")})
}

func TestCoordinatorSaveErrorStopsSamplerOnly(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	sampler := NewSampler(SamplerConfig{
		Sensor:      fake.NewFactory(fake.DefaultConfig(), nil),
		Calibration: openCalibration(),
		Prefix:      filepath.Join(t.TempDir(), "missing", "pcl"),
	}, logger)

	c := Start(context.Background(), sampler, logger)
	test.That(t, c.Send(MarkStart), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Wait(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, c.Err(), test.ShouldNotBeNil)
	test.That(t, observed.FilterMessage("sampler exited, no further captures will be saved").Len(), test.ShouldEqual, 1)

	test.That(t, errors.Is(c.Send(Sample), ErrReceiverGone), test.ShouldBeTrue)
	test.That(t, observed.FilterMessage("trigger not delivered").Len(), test.ShouldEqual, 1)
}

func TestCoordinator(t *testing.T) {
	dir := t.TempDir()
	logger := logging.NewTestLogger(t)
	sampler := NewSampler(SamplerConfig{
		Sensor:      fake.NewFactory(fake.DefaultConfig(), nil),
		Calibration: openCalibration(),
		Prefix:      filepath.Join(dir, "pcl"),
	}, logger)

	c := Start(context.Background(), sampler, logger)
	test.That(t, c.Saved(), test.ShouldBeNil)
	for _, code := range []Code{MarkStart, Sample, MarkEnd, Stop} {
		test.That(t, c.Send(code), test.ShouldBeNil)
	}
	<-c.Done()
	test.That(t, c.Err(), test.ShouldBeNil)

	saved := c.Saved()
	sort.Strings(saved)
	test.That(t, saved, test.ShouldResemble, []string{
		filepath.Join(dir, "pcl_0.pcd"),
		filepath.Join(dir, "pcl_END.pcd"),
		filepath.Join(dir, "pcl_START.pcd"),
	})
}

func TestCodeString(t *testing.T) {
	test.That(t, MarkStart.String(), test.ShouldEqual, "mark-start")
	test.That(t, Code(7).String(), test.ShouldEqual, "code-7")
}
