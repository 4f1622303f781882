package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/soilbed/armctl/arm"
	"github.com/soilbed/armctl/config"
	"github.com/soilbed/armctl/control"
	"github.com/soilbed/armctl/depthsensor/fake"
	"github.com/soilbed/armctl/executor"
	"github.com/soilbed/armctl/logging"
	"github.com/soilbed/armctl/simulator"
	"github.com/soilbed/armctl/trajectory"
	"github.com/soilbed/armctl/transport"
)

// samplerDrainTimeout bounds how long a finished run waits for pending captures to be saved.
const samplerDrainTimeout = time.Minute

func printf(w io.Writer, format string, a ...interface{}) {
	// NOTE: no need to catch this error; the user will see it if the write fails
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// armctlEnv is the configuration and logger shared by every command.
type armctlEnv struct {
	cfg     *config.Config
	logger  logging.Logger
	closers []io.Closer
}

func newArmctlEnv(c *cli.Context) (*armctlEnv, error) {
	var logger logging.Logger
	if c.Bool(debugFlag) {
		logger = logging.NewDebugLogger("armctl")
	} else {
		logger = logging.NewLogger("armctl")
	}

	if err := config.LoadEnv(logger, c.StringSlice(envFileFlag)...); err != nil {
		return nil, err
	}
	cfg, err := config.Read(c.String(configFlag), logger)
	if err != nil {
		return nil, err
	}
	if !c.Bool(debugFlag) {
		logger.SetLevel(cfg.Log.Level)
	}

	env := &armctlEnv{cfg: cfg, logger: logger}
	if cfg.Log.File != "" {
		appender, closer := logging.NewFileAppender(cfg.Log.File)
		logger.AddAppender(appender)
		env.closers = append(env.closers, closer)
	}
	return env, nil
}

func (env *armctlEnv) close() error {
	//nolint:errcheck
	env.logger.Sync()
	var err error
	for _, closer := range env.closers {
		err = multierr.Combine(err, closer.Close())
	}
	return err
}

func (env *armctlEnv) connect(c *cli.Context) (*arm.Session, error) {
	addr, err := env.cfg.Address(c.String(profileFlag))
	if err != nil {
		return nil, err
	}
	env.logger.Debugw("connecting", "address", addr)
	return arm.Connect(c.Context, addr, env.logger.Sublogger("arm"), transport.WithReadTimeout(env.cfg.ReadTimeout))
}

// withSession runs fn against a freshly connected session and releases everything afterwards.
func withSession(c *cli.Context, fn func(env *armctlEnv, session *arm.Session) error) (err error) {
	env, err := newArmctlEnv(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, env.close())
	}()

	session, err := env.connect(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, session.Close())
	}()
	return fn(env, session)
}

// PingAction is the corresponding Action for 'ping'.
func PingAction(c *cli.Context) error {
	return withSession(c, func(env *armctlEnv, session *arm.Session) error {
		start := time.Now()
		resp, err := session.Ping(c.Context)
		if err != nil {
			return errors.Wrap(err, "ping failed")
		}
		printf(c.App.Writer, "%s (%s)", resp, time.Since(start).Round(time.Microsecond))
		return nil
	})
}

// InfoAction is the corresponding Action for 'info'.
func InfoAction(c *cli.Context) error {
	return withSession(c, func(env *armctlEnv, session *arm.Session) error {
		model := session.Model(c.Context)
		if session.Disconnected() {
			return arm.ErrDisconnected
		}
		printf(c.App.Writer, "model: %s", model)
		return nil
	})
}

// StateAction is the corresponding Action for 'state'.
func StateAction(c *cli.Context) error {
	return withSession(c, func(env *armctlEnv, session *arm.Session) error {
		if err := session.UpdateDeviceInfo(c.Context); err != nil {
			env.logger.Warnw("poll incomplete", "error", err)
		}
		if err := session.ReadJointAngles(c.Context); err != nil {
			env.logger.Warnw("could not read joint angles", "error", err)
		}
		state := session.State()
		if state.Disconnected {
			return arm.ErrDisconnected
		}
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Field", "Value"})
		t.AppendRows([]table.Row{
			{"position", validOr(state.PositionValid, fmt.Sprintf("%v", state.Position))},
			{"orientation", validOr(state.OrientationValid, fmt.Sprintf("%v", state.Orientation))},
			{"joints", validOr(state.JointsValid, fmt.Sprintf("%v", state.Joints))},
			{"force", validOr(state.ForceValid, fmt.Sprintf("%v", state.Force))},
			{"moving", state.Moving},
			{"trajectory done", state.TrajectoryDone},
		})
		printf(c.App.Writer, "%s", t.Render())
		return nil
	})
}

func validOr(valid bool, s string) string {
	if !valid {
		return "unavailable"
	}
	return s
}

// HomeAction is the corresponding Action for 'home'.
func HomeAction(c *cli.Context) error {
	return withSession(c, func(env *armctlEnv, session *arm.Session) error {
		if err := session.Home(c.Context, env.cfg.Home()); err != nil {
			return err
		}
		printf(c.App.Writer, "homed at %v", session.State().Position)
		return nil
	})
}

// ListTrajectoriesAction is the corresponding Action for 'trajectories'.
func ListTrajectoriesAction(c *cli.Context) (err error) {
	env, err := newArmctlEnv(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, env.close())
	}()

	lib := env.cfg.Library(env.logger)
	speed := c.Float64(speedFlag)
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Name", "Waypoints", fmt.Sprintf("Seconds at %v", speed)})
	for _, name := range lib.Names() {
		wps, err := lib.Generate(name)
		if err != nil {
			t.AppendRow(table.Row{name, "invalid", err.Error()})
			continue
		}
		seconds := lo.SumBy(trajectory.XYTiming(wps, speed), func(tm trajectory.Timing) float64 {
			return tm.Seconds
		})
		t.AppendRow(table.Row{name, len(wps), fmt.Sprintf("%.1f", seconds)})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

func defaultTestName(trajectoryName string, now time.Time) string {
	name := strings.NewReplacer("/", "-", `\`, "-").Replace(trajectoryName)
	return fmt.Sprintf("%s_%s", name, now.Format("20060102_150405"))
}

func forceRequest(c *cli.Context, cfg *config.Config) (*executor.ForceRequest, error) {
	if !c.Bool(forceFlag) {
		return nil, nil
	}
	var target *float64
	if c.IsSet(targetFlag) {
		target = lo.ToPtr(c.Float64(targetFlag))
	}
	req, err := cfg.ForceRequest(target)
	if err != nil {
		return nil, err
	}
	if c.IsSet(controllerFlag) {
		typ := control.Type(strings.ToLower(c.String(controllerFlag)))
		if typ != control.Type(strings.ToLower(string(req.Controller.Type))) {
			// gains in the config belong to another controller type
			req.Controller = control.Config{Type: typ}
		}
	}
	if gains := c.StringSlice(gainFlag); len(gains) > 0 {
		attrs, err := gainAttributes(req.Controller.Attributes, gains)
		if err != nil {
			return nil, err
		}
		req.Controller.Attributes = attrs
	}
	return req, nil
}

// gainAttributes layers KEY=VALUE gains over base without modifying it. A dotted key such as
// hi.kp sets a field of a nested gain set.
func gainAttributes(base map[string]interface{}, gains []string) (map[string]interface{}, error) {
	attrs := lo.Assign(base)
	for _, gain := range gains {
		key, value, ok := strings.Cut(gain, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, errors.Errorf("gain %q should look like kp=0.1 or hi.kp=0.1", gain)
		}
		group, field, nested := strings.Cut(key, ".")
		if !nested {
			attrs[key] = value
			continue
		}
		sub, _ := attrs[group].(map[string]interface{})
		sub = lo.Assign(sub)
		sub[field] = value
		attrs[group] = sub
	}
	return attrs, nil
}

// RunAction is the corresponding Action for 'run'.
func RunAction(c *cli.Context) error {
	return withSession(c, func(env *armctlEnv, session *arm.Session) error {
		force, err := forceRequest(c, env.cfg)
		if err != nil {
			return err
		}
		req := executor.Request{
			Trajectory: c.String(trajectoryFlag),
			TestName:   c.String(nameFlag),
			Force:      force,
			Trace:      c.Bool(traceFlag),
		}
		if req.TestName == "" {
			req.TestName = defaultTestName(req.Trajectory, time.Now())
		}

		sensorCfg := fake.DefaultConfig()
		sensorCfg.Seed = c.Int64(seedFlag)
		exec := executor.New(
			session,
			env.cfg.Library(env.logger),
			fake.NewFactory(sensorCfg, clock.New()),
			env.cfg.Calibration(),
			env.cfg.ExecutorConfig(),
			env.logger.Sublogger("executor"),
		)

		res, runErr := exec.Run(c.Context, req)
		if res != nil && res.Sampler != nil {
			ctx, cancel := context.WithTimeout(context.Background(), samplerDrainTimeout)
			defer cancel()
			if err := res.Sampler.Wait(ctx); err != nil {
				env.logger.Warnw("sampler did not finish cleanly", "error", err)
			}
		}
		if runErr != nil {
			return runErr
		}
		printResult(c.App.Writer, res)
		return nil
	})
}

func printResult(w io.Writer, res *executor.Result) {
	status := "completed"
	if res.Aborted {
		status = "aborted, robot disconnected"
	}
	printf(w, "run %s: %s", res.RunID, status)
	printf(w, "\ttest:     %s", res.TestName)
	printf(w, "\tticks:    %d in %s", res.Ticks, res.Duration.Round(time.Millisecond))
	printf(w, "\tdata:     %s", res.DataFile)
	printf(w, "\tcaptures: %d", len(res.Sampler.Saved()))
	if res.Force != nil {
		printf(w, "\tforce:    mean %.3f sd %.3f min %.3f max %.3f over %d samples",
			res.Force.Mean, res.Force.StdDev, res.Force.Min, res.Force.Max, res.Force.Samples)
	}
}

// SimulateAction is the corresponding Action for 'simulate'.
func SimulateAction(c *cli.Context) (err error) {
	env, err := newArmctlEnv(c)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, env.close())
	}()

	simCfg := simulator.DefaultConfig()
	simCfg.SurfaceZ = env.cfg.Simulator.SurfaceZ
	simCfg.Stiffness = env.cfg.Simulator.Stiffness
	listen := env.cfg.Simulator.Listen
	if c.IsSet(listenFlag) {
		listen = c.String(listenFlag)
	}

	sim := simulator.NewServer(simCfg, env.logger.Sublogger("simulator"))
	if err := sim.Start(c.Context, listen); err != nil {
		return err
	}
	printf(c.App.Writer, "simulating %s on %s", simCfg.Model, sim.Addr())
	<-c.Context.Done()
	printf(c.App.Writer, "served %d requests", sim.Requests())
	return sim.Close()
}
