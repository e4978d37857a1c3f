package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"swarmenc/internal/config"
)

// version is stamped at build time via -ldflags.
var version = "dev"

type commandContext struct {
	configFlag *string
	targetFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// target resolves the coordinator base URL: flag first, then config.
func (c *commandContext) target() (string, error) {
	if c.targetFlag != nil && strings.TrimSpace(*c.targetFlag) != "" {
		return strings.TrimRight(strings.TrimSpace(*c.targetFlag), "/"), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	if cfg.Worker.Target == "" {
		return "", fmt.Errorf("no coordinator target configured; set worker.target or pass --target")
	}
	return cfg.Worker.Target, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var targetFlag string

	ctx := &commandContext{
		configFlag: &configFlag,
		targetFlag: &targetFlag,
	}

	rootCmd := &cobra.Command{
		Use:           "swarmenc",
		Short:         "Distributed scene-encode worker and coordinator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&targetFlag, "target", "", "Coordinator base URL")

	rootCmd.AddCommand(newWorkCommand(ctx))
	rootCmd.AddCommand(newAddCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the swarmenc version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage swarmenc configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}
