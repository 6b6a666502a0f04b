package main

import (
	"github.com/rancher/agent-control/pkg/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "agent-control",
		Short:         "Supervises sub-agents from declarative agent-type configuration",
		Version:       version.Friendly(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(lvl)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newRunCommand(),
		newValidateAgentTypeCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)
	return root
}
