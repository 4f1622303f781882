// Package executor runs one trial: it homes the robot, loads a trajectory, polls the robot until
// the trajectory completes and keeps the depth sampler in step with the motion.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/soilbed/armctl/arm"
	"github.com/soilbed/armctl/control"
	"github.com/soilbed/armctl/depthsensor"
	"github.com/soilbed/armctl/logging"
	"github.com/soilbed/armctl/protocol"
	"github.com/soilbed/armctl/trajectory"
	"github.com/soilbed/armctl/trigger"
	"github.com/soilbed/armctl/utils"
)

// Defaults for Config fields left at zero.
const (
	DefaultSampleEvery = 500
	DefaultWarmUp      = 3 * time.Second
)

// Device is the part of arm.Session the executor drives.
type Device interface {
	State() arm.State
	UpdateDeviceInfo(ctx context.Context) error
	Home(ctx context.Context, cfg arm.HomeConfig) error
	MoveTo(ctx context.Context, pos r3.Vector) error
	QueueAddTranslation(ctx context.Context, pos r3.Vector) error
	QueueGo(ctx context.Context) error
	MoveRelative(ctx context.Context, delta r3.Vector) error
	SetForceConfig(ctx context.Context, axis protocol.Axis, target float64) error
	EnableForceMode(ctx context.Context) error
	DisableForceMode(ctx context.Context) error
}

// Config holds the run parameters that do not change between trials.
type Config struct {
	DataDir string
	// SampleEvery is the number of poll ticks between sample triggers.
	SampleEvery int
	// WarmUp is how long the depth sensor is given to settle before homing. Negative skips it.
	WarmUp       time.Duration
	PollInterval time.Duration
	Home         arm.HomeConfig
}

// ForceRequest asks for a force-controlled run.
type ForceRequest struct {
	Axis       protocol.Axis
	Target     float64
	Controller control.Config
}

// Request describes one trial.
type Request struct {
	Trajectory string
	TestName   string
	Force      *ForceRequest
	// Trace logs every device exchange and tick of the run, tagged with the test name, whatever
	// the logger's level.
	Trace bool
}

// ForceStats summarises the force measured along the controlled axis.
type ForceStats struct {
	Samples int
	Mean    float64
	StdDev  float64
	Min     float64
	Max     float64
}

// Result reports how a trial ended.
type Result struct {
	RunID     uuid.UUID
	TestName  string
	DataFile  string
	Ticks     int
	Completed bool
	// Aborted is set when the robot disconnected mid-run.
	Aborted  bool
	Duration time.Duration
	Force    *ForceStats
	// Sampler is the capture worker of the run. It may still be saving when Run returns.
	Sampler *trigger.Coordinator
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(e *Executor) {
		e.clock = clk
	}
}

// Executor runs trials against one device.
type Executor struct {
	device      Device
	library     *trajectory.Library
	sensor      depthsensor.Factory
	calibration trigger.Calibration
	cfg         Config
	logger      logging.Logger
	clock       clock.Clock
}

// New returns an executor.
func New(
	device Device,
	library *trajectory.Library,
	sensor depthsensor.Factory,
	calibration trigger.Calibration,
	cfg Config,
	logger logging.Logger,
	opts ...Option,
) *Executor {
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = DefaultSampleEvery
	}
	e := &Executor{
		device:      device,
		library:     library,
		sensor:      sensor,
		calibration: calibration,
		cfg:         cfg,
		logger:      logger,
		clock:       clock.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the state of a single trial.
type run struct {
	*Executor
	req        Request
	result     *Result
	waypoints  []trajectory.Waypoint
	controller control.Controller
	axis       protocol.Axis
	dataFile   *os.File
	sampler    *trigger.Coordinator
	forces     []float64
	logger     logging.Logger
}

// Run executes one trial. A disconnect mid-run is not an error: the result is marked Aborted.
// Every other failure after the sampler has started stops the sampler before returning.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	if err := validateTestName(req.TestName); err != nil {
		return nil, err
	}
	r := &run{
		Executor: e,
		req:      req,
		result:   &Result{RunID: uuid.New(), TestName: req.TestName},
		axis:     protocol.AxisZ,
	}
	r.logger = e.logger.Sublogger(req.TestName)
	if req.Trace {
		ctx = logging.WithTrace(ctx, req.TestName)
	}

	if err := r.selectTrajectory(); err != nil {
		return nil, err
	}
	if err := r.prepare(ctx); err != nil {
		return nil, err
	}
	started := e.clock.Now()
	err := r.execute(ctx)
	r.result.Duration = e.clock.Since(started)
	r.result.Force = r.forceStats()
	closeErr := r.dataFile.Close()

	if err != nil {
		r.sendTrigger(trigger.Stop)
		return r.result, multierr.Combine(err, closeErr)
	}
	if closeErr != nil {
		r.logger.CWarnw(ctx, "closing data file", "error", closeErr)
	}
	r.logger.CInfow(ctx, "run finished",
		"run_id", r.result.RunID,
		"ticks", r.result.Ticks,
		"completed", r.result.Completed,
		"aborted", r.result.Aborted,
		"duration", r.result.Duration)
	return r.result, nil
}

func validateTestName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("test name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.Errorf("test name %q must not contain path separators", name)
	}
	return nil
}

// selectTrajectory generates and checks the waypoints before anything is sent to the robot.
func (r *run) selectTrajectory() error {
	wps, err := r.library.Generate(r.req.Trajectory)
	if err != nil {
		return err
	}
	if err := trajectory.Validate(wps); err != nil {
		return errors.Wrapf(err, "trajectory %q", r.req.Trajectory)
	}
	if r.req.Force == nil {
		r.waypoints = wps
		return nil
	}

	if !r.req.Force.Axis.Implemented() {
		return errors.Errorf("force control along %s is not implemented", r.req.Force.Axis)
	}
	r.axis = r.req.Force.Axis
	r.controller, err = control.New(r.req.Force.Controller)
	if err != nil {
		return err
	}
	r.waypoints = trajectory.Relative(wps)
	return nil
}

// prepare creates the output files and starts the sampler.
func (r *run) prepare(ctx context.Context) error {
	dir := filepath.Join(r.cfg.DataDir, r.req.TestName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, "creating run directory")
	}
	r.result.DataFile = filepath.Join(dir, fmt.Sprintf("data_%s.txt", r.req.TestName))
	//nolint:gosec
	f, err := os.OpenFile(r.result.DataFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return errors.Wrap(err, "opening data file")
	}
	r.dataFile = f

	sampler := trigger.NewSampler(trigger.SamplerConfig{
		Sensor:      r.sensor,
		Calibration: r.calibration,
		Prefix:      filepath.Join(dir, "pcl_"+r.req.TestName),
		WarmUp:      r.cfg.WarmUp,
	}, r.logger.Sublogger("sampler"))
	r.sampler = trigger.Start(context.WithoutCancel(ctx), sampler, r.logger.Sublogger("sampler"))
	r.result.Sampler = r.sampler

	r.logger.CInfow(ctx, "run starting",
		"run_id", r.result.RunID,
		"trajectory", r.req.Trajectory,
		"waypoints", len(r.waypoints),
		"force_mode", r.req.Force != nil,
		"data_file", r.result.DataFile)
	return nil
}

func (r *run) sendTrigger(code trigger.Code) {
	// Delivery failures are logged by the coordinator and never stop the motion.
	//nolint:errcheck
	r.sampler.Send(code)
}

// abort ends the run early after a lost connection. A connection lost to cancellation reports the
// context error instead.
func (r *run) abort(ctx context.Context, step string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.logger.CWarnw(ctx, "robot disconnected, aborting run", "step", step, "ticks", r.result.Ticks)
	r.sendTrigger(trigger.Stop)
	r.result.Aborted = true
	return nil
}

func (r *run) disconnected() bool {
	return r.device.State().Disconnected
}

func (r *run) execute(ctx context.Context) error {
	r.sendTrigger(trigger.WarmUp)
	if r.cfg.WarmUp > 0 && !goutils.SelectContextOrWait(ctx, r.cfg.WarmUp) {
		return ctx.Err()
	}

	//nolint:errcheck
	r.device.Home(ctx, r.cfg.Home)
	if r.disconnected() {
		return r.abort(ctx, "home")
	}

	r.sendTrigger(trigger.MarkStart)
	//nolint:errcheck
	r.device.MoveTo(ctx, r.waypoints[0])
	if r.disconnected() {
		return r.abort(ctx, "move to start")
	}

	if err := r.loadQueue(ctx); err != nil {
		return err
	}
	if r.disconnected() {
		return r.abort(ctx, "load queue")
	}

	if err := r.loop(ctx); err != nil || r.result.Aborted {
		return err
	}

	if r.req.Force != nil {
		if err := r.device.DisableForceMode(ctx); err != nil {
			return errors.Wrap(err, "disabling force mode")
		}
	}
	//nolint:errcheck
	r.device.Home(ctx, r.cfg.Home)
	if r.disconnected() {
		r.logger.CWarnw(ctx, "robot disconnected while returning home")
	}
	r.sendTrigger(trigger.MarkEnd)
	r.sendTrigger(trigger.Stop)
	r.result.Completed = true
	return nil
}

func (r *run) loadQueue(ctx context.Context) error {
	if r.req.Force == nil {
		for _, wp := range r.waypoints[1:] {
			//nolint:errcheck
			r.device.QueueAddTranslation(ctx, wp)
			if r.disconnected() {
				return nil
			}
		}
		//nolint:errcheck
		r.device.QueueGo(ctx)
		return nil
	}

	if err := r.device.SetForceConfig(ctx, r.req.Force.Axis, r.req.Force.Target); err != nil {
		return errors.Wrap(err, "configuring force control")
	}
	if err := r.device.EnableForceMode(ctx); err != nil {
		return errors.Wrap(err, "enabling force mode")
	}
	for i, delta := range r.waypoints[1:] {
		if err := r.device.MoveRelative(ctx, delta); err != nil {
			return errors.Wrapf(err, "queueing relative move %d", i+1)
		}
	}
	//nolint:errcheck
	r.device.QueueGo(ctx)
	return nil
}

// loop polls the robot until it reports the trajectory done.
func (r *run) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		//nolint:errcheck
		r.device.UpdateDeviceInfo(ctx)
		state := r.device.State()
		if state.Disconnected {
			return r.abort(ctx, "run loop")
		}

		now := r.clock.Now()
		tick := r.result.Ticks
		r.storeState(state, tick, now)
		r.logger.CDebugw(ctx, "tick", "tick", tick, "position", state.Position, "force", state.Force)
		if tick%r.cfg.SampleEvery == 0 {
			r.sendTrigger(trigger.Sample)
		}

		force, forceValid := state.AxisForce(r.axis)
		if forceValid {
			r.forces = append(r.forces, force)
		}
		if r.controller != nil {
			if err := r.correct(ctx, force, forceValid, now); err != nil {
				return err
			}
		}
		r.result.Ticks++

		if state.TrajectoryDone {
			return nil
		}
		if r.cfg.PollInterval > 0 && !goutils.SelectContextOrWait(ctx, r.cfg.PollInterval) {
			return ctx.Err()
		}
	}
}

// correct feeds the force error to the controller and moves along the controlled axis.
func (r *run) correct(ctx context.Context, force float64, valid bool, now time.Time) error {
	if !valid {
		r.logger.CWarnw(ctx, "force reading invalid, skipping correction", "tick", r.result.Ticks)
		return nil
	}
	out, err := r.controller.Step(r.req.Force.Target-force, now)
	if err != nil {
		r.logger.CWarnw(ctx, "controller step rejected", "tick", r.result.Ticks, "error", err)
		return nil
	}
	move := control.Displacement(r.controller, out)
	if utils.AlmostZero(move) {
		return nil
	}
	var delta r3.Vector
	switch r.axis {
	case protocol.AxisX:
		delta.X = move
	case protocol.AxisY:
		delta.Y = move
	case protocol.AxisZ:
		delta.Z = move
	}
	if err := r.device.MoveRelative(ctx, delta); err != nil {
		return errors.Wrapf(err, "force correction at tick %d", r.result.Ticks)
	}
	return nil
}

// storeState appends one line to the data file. Write failures are logged and otherwise ignored.
func (r *run) storeState(state arm.State, tick int, now time.Time) {
	seconds := float64(now.UnixNano()) / float64(time.Second)
	if _, err := r.dataFile.WriteString(state.LogLine(tick, seconds) + "\n"); err != nil {
		r.logger.Warnw("could not write to data file", "error", err)
	}
}

func (r *run) forceStats() *ForceStats {
	if len(r.forces) == 0 {
		return nil
	}
	data := stats.Float64Data(r.forces)
	mean, _ := data.Mean()
	stdDev, _ := data.StandardDeviation()
	lo, _ := data.Min()
	hi, _ := data.Max()
	return &ForceStats{Samples: len(r.forces), Mean: mean, StdDev: stdDev, Min: lo, Max: hi}
}
