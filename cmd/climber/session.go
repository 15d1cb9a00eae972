package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/polebot/climber/pkg/climb"
	"github.com/polebot/climber/pkg/config"
	"github.com/polebot/climber/pkg/events"
	"github.com/polebot/climber/pkg/gait"
	"github.com/polebot/climber/pkg/hardware"
	"github.com/polebot/climber/pkg/monitor"
	"github.com/polebot/climber/pkg/motion"
	"github.com/polebot/climber/pkg/report"
	"github.com/polebot/climber/pkg/sonar"
	"github.com/polebot/climber/pkg/version"
)

// sessionFlags are the per-run overrides shared by the session commands.
type sessionFlags struct {
	maxSteps      int
	tolerance     float64
	fixedDuration time.Duration
	noBias        bool
	plotPath      string
	allowNonRoot  bool

	dryRun      bool
	startHeight float64
	dryRunRate  float64
}

func (f *sessionFlags) bind(cmd *cobra.Command, climbing bool) {
	fl := cmd.Flags()
	if climbing {
		fl.IntVar(&f.maxSteps, "max-steps", 0, "maximum number of steps (overrides maxSteps in the config)")
		fl.Float64Var(&f.tolerance, "tolerance", 0, "convergence tolerance in cm (overrides tolerance in the config)")
		fl.DurationVar(&f.fixedDuration, "fixed-duration", 0, "use this step duration instead of the feedback controller")
		fl.BoolVar(&f.noBias, "no-bias", false, "skip the grip-bias rotation of each step")
		fl.StringVar(&f.plotPath, "plot", "", "write a PNG of the height per step to this path when the session ends")
	}
	fl.BoolVar(&f.dryRun, "dry-run", false, "run against simulated hardware")
	fl.Float64Var(&f.startHeight, "start-height", 40, "initial height of the simulated robot in cm (with --dry-run)")
	fl.Float64Var(&f.dryRunRate, "dry-run-rate", 5, "simulated vertical speed in cm/s (with --dry-run)")
	fl.BoolVar(&f.allowNonRoot, "allow-non-root-access", false, "allow non-root users to query and abort the session")
}

// paramsFromConfig fills climb parameters from the config file and the
// command line overrides.
func paramsFromConfig(conf config.Config, f *sessionFlags, target float64, dir gait.Direction) climb.Params {
	p := climb.DefaultParams(target, dir)
	p.MaxSteps = conf.MaxSteps()
	p.Tolerance = conf.Tolerance()
	p.HeightThreshold = conf.HeightThreshold()
	p.StartMargin = conf.StartMargin()
	p.MaxSensorFailures = conf.MaxSensorFailures()
	p.SettleInterval = conf.SettleInterval()
	p.ForcedStepDuration = conf.ForcedStepDuration()
	p.FinalRadialRelease = conf.FinalRadialRelease()
	p.FinalHorizontalRelease = conf.FinalHorizontalRelease()
	p.Gait.BiasDegrees = conf.BiasDegrees()

	if f.maxSteps > 0 {
		p.MaxSteps = f.maxSteps
	}
	if f.tolerance > 0 {
		p.Tolerance = f.tolerance
	}
	if f.noBias {
		p.Gait.Bias = false
	}
	return p
}

// newController returns the motion strategy of a session.
func newController(conf config.Config, f *sessionFlags, target float64) motion.Controller {
	if f.fixedDuration > 0 {
		return motion.Fixed(f.fixedDuration)
	}
	return motion.NewPID(motion.PIDConfig{
		PIDParams: motion.PIDParams{Kp: conf.Kp(), Ki: conf.Ki(), Kd: conf.Kd()},
		Setpoint:  target,
		Min:       conf.MinDuration(),
		Max:       conf.MaxDuration(),
	})
}

// rig is the hardware of one session.
type rig struct {
	bank   hardware.Bank
	sensor sonar.Sensor
	close  func()
}

// openRig opens the actuator bank and, when needSensor is set, the distance
// sensor selected in the config.
func openRig(conf config.Config, f *sessionFlags, needSensor bool) (*rig, error) {
	if f.dryRun {
		logrus.Warn("dry run: no hardware is driven")
		m, sim := newSimRig(f.startHeight, f.dryRunRate)
		r := &rig{bank: m, close: func() {}}
		if needSensor {
			r.sensor = sim
		}
		return r, nil
	}

	servo := hardware.DefaultServoConfig()
	servo.Settle = conf.ServoSettle()
	board, err := hardware.OpenBoard(hardware.DefaultPinMap(), servo)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to open the gpio board")
	}
	bank := board.Bank()
	r := &rig{bank: bank}
	closers := []func(){
		func() {
			// The supervisor powers off on every exit path. This only runs
			// when no session got that far.
			if !bank.Released() {
				if err := bank.EmergencyStop(); err != nil {
					logrus.WithError(err).Error("failed to release the gpio board")
				}
			}
		},
	}
	r.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if !needSensor {
		return r, nil
	}

	switch conf.Sensor() {
	case config.SensorSerial:
		s, err := sonar.OpenSerial(conf.SerialPort(), conf.SerialBaud(), conf.SerialTimeout())
		if err != nil {
			r.close()
			return nil, err
		}
		closers = append(closers, func() {
			if err := s.Close(); err != nil {
				logrus.WithError(err).Warn("failed to close serial rangefinder")
			}
		})
		r.sensor = s
	default:
		r.sensor = board.Sensor(conf.EchoTimeout())
	}
	return r, nil
}

func loadConfig() (*config.File, error) {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to load config %s", configPath)
	}
	if err := conf.Validate(); err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid config %s", configPath)
	}
	logrus.WithFields(conf.LogrusFields()).Debug("config loaded")
	return conf, nil
}

// runSession runs one supervised session to completion. The monitor serves
// the session while it runs. SIGINT, SIGTERM and PUT /abort all cancel it.
func runSession(cmd *cobra.Command, conf *config.File, f *sessionFlags, params climb.Params, ctrl motion.Controller) error {
	r, err := openRig(conf, f, params.Diameter == climb.NoDiameter)
	if err != nil {
		return err
	}
	defer r.close()

	sup, err := climb.NewSupervisor(r.bank, r.sensor, ctrl, params)
	if err != nil {
		return err
	}
	hub := events.NewHub()
	sup.SetPublisher(hub)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		select {
		case sig := <-sigc:
			logrus.Warnf("received signal %s, aborting at the next step boundary", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	srv := monitor.New(monitor.Options{
		Session:      sup,
		Config:       conf,
		Hub:          hub,
		Abort:        cancel,
		AllowNonRoot: f.allowNonRoot,
	})
	if err := srv.Start(unixSocketPath); err != nil {
		logrus.WithError(err).Warn("monitor unavailable, status and abort will not work for this session")
	} else {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logrus.WithError(err).Warn("failed to shut down monitor")
			}
		}()
	}

	logrus.WithFields(logrus.Fields{
		"version":   version.Version,
		"commit":    version.GitCommit,
		"direction": params.Direction,
		"target":    params.Target,
		"diameter":  params.Diameter,
	}).Info("session starting")

	summary, runErr := sup.Run(ctx)
	printSummary(cmd, summary)

	if f.plotPath != "" {
		if err := report.Plot(summary, f.plotPath); err != nil {
			if errors.Is(err, report.ErrNoData) {
				logrus.Info("no steps were taken, skipping plot")
			} else {
				logrus.WithError(err).Warn("failed to write plot")
			}
		} else {
			logrus.Infof("plot written to %s", f.plotPath)
		}
	}

	return runErr
}
