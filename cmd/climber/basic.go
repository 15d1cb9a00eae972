package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/polebot/climber/pkg/client"
	"github.com/polebot/climber/pkg/config"
	"github.com/polebot/climber/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)

			// A running session may be an older build.
			sessionVersion, err := newAPIClient().GetVersion()
			switch {
			case err == nil && sessionVersion != version.Version:
				logrus.WithFields(logrus.Fields{
					"clientVersion":  version.Version,
					"sessionVersion": sessionVersion,
				}).Warn("the running session was started by a different build")
			case err != nil && !errors.Is(err, client.ErrDaemonNotRunning):
				logrus.WithError(err).Debug("failed to query session version")
			}
		},
	}
}

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding every default",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite it", configPath)
			}
			f := config.NewFileFromConfig(config.DefaultRawFileConfig(), configPath)
			if err := f.Save(); err != nil {
				return err
			}
			logrus.Infof("config written to %s", configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  `Print the configuration file merged with the defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			eff, err := conf.Effective()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(eff)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
