package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/polebot/climber/pkg/climb"
	"github.com/polebot/climber/pkg/gait"
	"github.com/polebot/climber/pkg/motion"
)

func parseFloatArg(args []string, valueName string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", valueName)
	}

	return value, nil
}

func newClimbCommand(use string, dir gait.Direction, short, long string) *cobra.Command {
	f := &sessionFlags{}
	cmd := &cobra.Command{
		Use:     use + " [target-cm]",
		Short:   short,
		Long:    long,
		GroupID: gClimb,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseFloatArg(args, "target height")
			if err != nil {
				return err
			}

			conf, err := loadConfig()
			if err != nil {
				return err
			}

			params := paramsFromConfig(conf, f, target, dir)
			return runSession(cmd, conf, f, params, newController(conf, f, target))
		},
	}
	f.bind(cmd, true)
	return cmd
}

func NewUpCommand() *cobra.Command {
	return newClimbCommand("up", gait.Ascend,
		"Climb up to a target height",
		`Climb up to a target height in cm.

The step duration comes from the feedback controller unless --fixed-duration
is given. The session stops once the sensor reads within the tolerance of the
target, or after max-steps steps.`)
}

func NewDownCommand() *cobra.Command {
	return newClimbCommand("down", gait.Descend,
		"Climb down to a target height",
		`Climb down to a target height in cm.

The session stops once the sensor reads within the tolerance of the target, or
after max-steps steps.`)
}

func NewManualCommand() *cobra.Command {
	var (
		steps    int
		duration time.Duration
		up       bool
	)
	f := &sessionFlags{}

	cmd := &cobra.Command{
		Use:     "manual",
		Short:   "Run a fixed number of fixed-duration steps",
		GroupID: gClimb,
		Long: `Run a fixed number of fixed-duration steps without the grip-bias rotation.

The sensor is read for the progress record, but only the step count stops the
session. The default is two 10s steps down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return fmt.Errorf("invalid number of steps: %d", steps)
			}
			if duration <= 0 {
				return fmt.Errorf("invalid step duration: %s", duration)
			}

			conf, err := loadConfig()
			if err != nil {
				return err
			}

			dir := gait.Descend
			if up {
				dir = gait.Ascend
			}
			params := paramsFromConfig(conf, f, 0, dir)
			params.MaxSteps = steps
			params.FixedSteps = true
			params.Gait.Bias = false

			return runSession(cmd, conf, f, params, motion.Fixed(duration))
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 2, "number of steps")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "duration of the vertical move of each step")
	cmd.Flags().BoolVar(&up, "up", false, "climb up instead of down")
	cmd.Flags().StringVar(&f.plotPath, "plot", "", "write a PNG of the height per step to this path when the session ends")
	f.bind(cmd, false)

	return cmd
}

func NewGripCommand() *cobra.Command {
	var diameter int
	f := &sessionFlags{}

	cmd := &cobra.Command{
		Use:     "grip",
		Short:   "Set the grips up for a column diameter",
		GroupID: gClimb,
		Long: `Retract the grips to fit a column of the given diameter, then power off.
The grips are left set. No steps are taken.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := climb.ParseDiameter(diameter)
			if err != nil {
				return err
			}
			if d == climb.NoDiameter {
				return fmt.Errorf("--diameter is required (30 or 60)")
			}

			conf, err := loadConfig()
			if err != nil {
				return err
			}

			params := paramsFromConfig(conf, f, 0, gait.Ascend)
			params.Diameter = d
			return runSession(cmd, conf, f, params, nil)
		},
	}

	cmd.Flags().IntVar(&diameter, "diameter", 0, "column diameter in cm (30 or 60)")
	f.bind(cmd, false)

	return cmd
}
