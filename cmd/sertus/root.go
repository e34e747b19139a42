package main

import (
	"github.com/spf13/cobra"

	"github.com/hamed0406/sertus/internal/config"
)

type cli struct {
	configPath string
	env        config.Env
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "sertus",
		Short:         "Periodic health checks exported as Prometheus metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv()
			c.env = config.FromEnv()
			if c.configPath != "" {
				c.env.ConfigPath = c.configPath
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default is $SERTUS_CONFIG or ~/.sertus/config.toml)")

	root.AddCommand(newDaemonCmd(c))
	root.AddCommand(newInitCmd(c))
	root.AddCommand(newConfigCmd(c))
	root.AddCommand(newPreflightCmd(c))
	root.AddCommand(newVersionCmd())
	return root
}
