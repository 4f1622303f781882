// Package cli contains the armctl command line.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	configFlag  = "config"
	debugFlag   = "debug"
	profileFlag = "profile"
	envFileFlag = "env-file"

	trajectoryFlag = "trajectory"
	nameFlag       = "name"
	forceFlag      = "force"
	targetFlag     = "target"
	controllerFlag = "controller"
	gainFlag       = "gain"
	traceFlag      = "trace"
	seedFlag       = "sensor-seed"
	speedFlag      = "speed"
	listenFlag     = "listen"
)

var app = &cli.App{
	Name:            "armctl",
	Usage:           "drive the soil bed arm and record depth captures",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:    profileFlag,
			Aliases: []string{"p"},
			Usage:   "robot profile name or host:port",
			Value:   "local",
		},
		&cli.StringSliceFlag{
			Name:  envFileFlag,
			Usage: "load environment variables from `FILE` before reading the config",
			Value: cli.NewStringSlice(".env"),
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "ping",
			Usage:  "check that the robot controller answers",
			Action: PingAction,
		},
		{
			Name:   "info",
			Usage:  "print the robot model",
			Action: InfoAction,
		},
		{
			Name:   "state",
			Usage:  "poll the robot once and print its state",
			Action: StateAction,
		},
		{
			Name:   "home",
			Usage:  "return the robot to its home pose",
			Action: HomeAction,
		},
		{
			Name:  "trajectories",
			Usage: "list the available trajectories",
			Flags: []cli.Flag{
				&cli.Float64Flag{
					Name:  speedFlag,
					Usage: "lateral speed used to estimate durations",
					Value: 50,
				},
			},
			Action: ListTrajectoriesAction,
		},
		{
			Name:      "run",
			Usage:     "execute one trial",
			UsageText: "armctl run --trajectory <name> [--name <test>] [--force [--target <N>] [--controller <type>] [--gain <key=value>]...]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     trajectoryFlag,
					Aliases:  []string{"t"},
					Usage:    "trajectory to run",
					Required: true,
				},
				&cli.StringFlag{
					Name:  nameFlag,
					Usage: "test name, used for the output directory. Defaults to the trajectory and a timestamp",
				},
				&cli.BoolFlag{
					Name:  forceFlag,
					Usage: "run under force control",
				},
				&cli.Float64Flag{
					Name:  targetFlag,
					Usage: "force target in newtons, overrides the config",
				},
				&cli.StringFlag{
					Name:  controllerFlag,
					Usage: "controller type: polarity, proportional, pd, pid or phpid. Gains come from the config unless the type differs",
				},
				&cli.StringSliceFlag{
					Name:  gainFlag,
					Usage: "controller attribute as `KEY=VALUE`, e.g. kp=0.1 or hi.kp=2 for phpid. Overrides the config",
				},
				&cli.BoolFlag{
					Name:  traceFlag,
					Usage: "log every robot exchange of this run whatever the log level",
				},
				&cli.Int64Flag{
					Name:  seedFlag,
					Usage: "seed of the synthetic depth sensor",
					Value: 1,
				},
			},
			Action: RunAction,
		},
		{
			Name:  "simulate",
			Usage: "serve a simulated robot controller until interrupted",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  listenFlag,
					Usage: "address to listen on, overrides the config",
				},
			},
			Action: SimulateAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
