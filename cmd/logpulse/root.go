package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/predatorx7/logpulse/pkg/config"
	"github.com/predatorx7/logpulse/pkg/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type commandContext struct {
	configFlag string
	envFlag    string

	once      sync.Once
	config    *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	err       error
}

func (c *commandContext) ensure() error {
	c.once.Do(func() {
		if err := config.LoadDotEnv(strings.TrimSpace(c.envFlag)); err != nil {
			c.err = err
			return
		}
		cfg, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.err = err
			return
		}
		log, closer, err := logging.New(cfg.Log)
		if err != nil {
			c.err = err
			return
		}
		c.config, c.logger, c.logCloser = cfg, log, closer
	})
	return c.err
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

// close releases the log file. It runs whether or not the command failed.
func (c *commandContext) close() {
	if c.logCloser != nil {
		_ = c.logCloser.Close()
		c.logCloser = nil
	}
}

// execute runs cmd and then releases what its commands opened.
func execute(ctx context.Context, cc *commandContext, cmd *cobra.Command) error {
	defer cc.close()
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(cc *commandContext) *cobra.Command {

	rootCmd := &cobra.Command{
		Use:           "logpulse",
		Short:         "Browse and live-tail log files over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return cc.ensure()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cc.configFlag, "config", "c", "", "Configuration file path (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&cc.envFlag, "env-file", ".env", "Dotenv file loaded before the environment is read")

	rootCmd.AddCommand(newServeCommand(cc))
	rootCmd.AddCommand(newSourcesCommand(cc))
	rootCmd.AddCommand(newTailCommand(cc))
	rootCmd.AddCommand(newAPIKeyCommand(cc))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the logpulse version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "logpulse "+version)
		},
	}
}
