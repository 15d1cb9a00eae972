package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/polebot/climber/pkg/client"
	"github.com/polebot/climber/pkg/climb"
	"github.com/polebot/climber/pkg/config"
	"github.com/polebot/climber/pkg/events"
)

func newAPIClient() *client.Client {
	return client.NewClient(unixSocketPath)
}

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gMonitor,
		Short:   "Get the status of the running session",
		Long:    `Get the state, height and step count of the running session, and its configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newAPIClient()
			st, err := c.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get session status: %w", err)
			}
			raw, err := c.GetConfig()
			if err != nil {
				return fmt.Errorf("failed to get config: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Status *climb.Status         `json:"status"`
					Config *config.RawFileConfig `json:"configuration"`
				}{st, raw})
			}

			printStatus(cmd, st, config.NewFileFromConfig(raw, ""))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")

	return cmd
}

func printStatus(cmd *cobra.Command, st *climb.Status, conf *config.File) {
	cmd.Println(bold("Session:"))
	cmd.Printf("  State: %s\n", stateText(st.State))
	if !st.StartedAt.IsZero() {
		cmd.Printf("  Running for: %s\n", bold("%s", time.Since(st.StartedAt).Round(time.Second)))
	}
	cmd.Printf("  Direction: %s\n", bold("%s", st.Direction))
	cmd.Printf("  Target: %s\n", bold("%.1f cm", st.Target))
	cmd.Printf("  Steps: %s\n", bold("%d / %d", st.Steps, st.MaxSteps))
	if st.Message != "" {
		cmd.Printf("  Message: %s\n", st.Message)
	}

	cmd.Println()
	cmd.Println(bold("Height:"))
	cmd.Printf("  Initial: %s\n", bold("%.2f cm", st.InitialHeight))
	cmd.Printf("  Current: %s\n", bold("%.2f cm", st.Height))
	cmd.Printf("  Sensor healthy: %s\n", bool2Text(!st.Degraded))
	cmd.Printf("  Signed error: %s\n", bold("%+.2f cm", st.SignedError))
	if rec := st.LastStep; rec != nil {
		cmd.Printf("  Last step: %s\n", bold("#%d on the %s assembly, %s", rec.Step, rec.Assembly, rec.Duration))
	}

	if st.Summary != nil {
		cmd.Println()
		printSummary(cmd, *st.Summary)
	}

	cmd.Println()
	cmd.Println(bold("Configuration:"))
	cmd.Printf("  Tolerance: %s\n", bold("%.1f cm", conf.Tolerance()))
	cmd.Printf("  Progress threshold: %s\n", bold("%.1f cm", conf.HeightThreshold()))
	cmd.Printf("  Gains: %s\n", bold("kp=%g ki=%g kd=%g", conf.Kp(), conf.Ki(), conf.Kd()))
	cmd.Printf("  Step duration: %s\n", bold("%s to %s", conf.MinDuration(), conf.MaxDuration()))
	cmd.Printf("  Sensor: %s\n", bold("%s", conf.Sensor()))
}

func printSummary(cmd *cobra.Command, s climb.Summary) {
	cmd.Println(bold("Summary:"))
	cmd.Printf("  Outcome: %s\n", outcomeText(s.Outcome))
	if s.Error != "" {
		cmd.Printf("  Error: %s\n", color.RedString(s.Error))
	}
	if s.Outcome == climb.OutcomeGripSet {
		cmd.Printf("  Elapsed: %s\n", bold("%s", s.Elapsed))
		return
	}
	cmd.Printf("  Height: %s\n", bold("%.2f cm -> %.2f cm (target %.1f cm)", s.InitialHeight, s.FinalHeight, s.Target))
	cmd.Printf("  Displacement: %s\n", bold("%+.2f cm", s.Displacement))
	cmd.Printf("  Steps: %s\n", bold("%d", s.Steps))
	cmd.Printf("  Progress warnings: %s\n", bold("%d", s.Stalls))
	cmd.Printf("  Elapsed: %s\n", bold("%s", s.Elapsed))
}

func NewAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "abort",
		GroupID: gMonitor,
		Short:   "Abort the running session",
		Long: `Abort the running session.

The session stops at the next step boundary and then releases the grips and
powers off. A step in progress is finished first.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := newAPIClient().Abort()
			if err != nil {
				return fmt.Errorf("failed to abort session: %w", err)
			}
			if ret != "" {
				logrus.Infof("session responded: %s", ret)
			}
			return nil
		},
	}
}

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		GroupID: gMonitor,
		Short:   "Follow the steps of the running session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := newAPIClient().Events(ctx, func(ev events.Event) error {
				printEvent(cmd, ev)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("event stream failed: %w", err)
			}
			return nil
		},
	}
}

func printEvent(cmd *cobra.Command, ev events.Event) {
	switch ev.Name {
	case events.ClimbStep:
		s, err := events.DecodeAs[events.StepEvent](ev)
		if err != nil {
			logrus.WithError(err).Warn("malformed step event")
			return
		}
		height := fmt.Sprintf("%.2f cm", s.Height)
		if s.Degraded {
			height = color.YellowString("%s (stale)", height)
		}
		forced := ""
		if s.Forced {
			forced = " forced"
		}
		cmd.Printf("step %s %s%s: height %s, error %+.2f cm, %dms, moved %+.2f cm\n",
			bold("#%d", s.Step), s.Assembly, forced, height, s.SignedError, s.DurationMs, s.Displacement)
	case events.ClimbState:
		s, err := events.DecodeAs[events.StateEvent](ev)
		if err != nil {
			logrus.WithError(err).Warn("malformed state event")
			return
		}
		line := fmt.Sprintf("%s -> %s", s.From, stateText(climb.State(s.To)))
		if s.Message != "" {
			line += ": " + s.Message
		}
		cmd.Println(line)
	default:
		logrus.Debugf("ignoring event %q", ev.Name)
	}
}

func stateText(s climb.State) string {
	switch s {
	case climb.StateConverged, climb.StateDone:
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	case climb.StateAborted:
		return color.New(color.Bold, color.FgRed).Sprint(s)
	case climb.StateExhausted:
		return color.New(color.Bold, color.FgYellow).Sprint(s)
	default:
		return bold("%s", s)
	}
}

func outcomeText(o climb.Outcome) string {
	switch o {
	case climb.OutcomeConverged, climb.OutcomeGripSet:
		return color.New(color.Bold, color.FgGreen).Sprint(o)
	case climb.OutcomeAborted:
		return color.New(color.Bold, color.FgRed).Sprint(o)
	default:
		return color.New(color.Bold, color.FgYellow).Sprint(o)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
