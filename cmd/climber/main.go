package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/polebot/climber/pkg/client"
	"github.com/polebot/climber/pkg/climb"
	"github.com/polebot/climber/pkg/hardware"
	"github.com/polebot/climber/pkg/monitor"
)

var (
	logLevel       = "info"
	unixSocketPath = monitor.DefaultSocketPath
	configPath     = "/etc/climber.json"
)

var (
	gClimb        = "Climb:"
	gMonitor      = "Monitor:"
	commandGroups = []string{
		gClimb,
		gMonitor,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: no climb session is running")
		fmt.Fprintln(os.Stderr, "Start one with 'climber up' or 'climber down', or pass the right --socket.")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or start the session with '--allow-non-root-access'")
	case errors.Is(err, hardware.ErrBusy):
		fmt.Fprintln(os.Stderr, "\nError: the GPIO board is already in use by another session")
	case errors.Is(err, climb.ErrUserAbort):
		fmt.Fprintln(os.Stderr, "\nThe session was aborted. Grips were released and power is off.")
	case errors.Is(err, climb.ErrSensorTimeout):
		fmt.Fprintln(os.Stderr, "\nError: the distance sensor stopped answering. Check its wiring.")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "climber",
		Short: "climber drives a pole-climbing robot up and down a column",
		Long: `climber drives a pole-climbing robot up and down a column.

A session grips the column with the upper and lower assemblies in turn,
moves the telescoping member between grips and stops on the distance
sensor reading. Every session ends by releasing the grips and powering
the actuators off.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "socket", unixSocketPath, "session monitor unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewUpCommand(),
		NewDownCommand(),
		NewManualCommand(),
		NewGripCommand(),
		NewStatusCommand(),
		NewAbortCommand(),
		NewWatchCommand(),
		NewConfigCommand(),
		NewVersionCommand(),
	)

	return cmd
}
