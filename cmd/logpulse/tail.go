package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/predatorx7/logpulse/pkg/stream"
	"github.com/predatorx7/logpulse/pkg/tail"
)

func newTailCommand(cc *commandContext) *cobra.Command {
	var lines int
	var noFollow bool

	cmd := &cobra.Command{
		Use:   "tail <source> <log>",
		Short: "Print the last lines of a log file and follow it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _, err := buildRegistry(cc.config, cc.logger)
			if err != nil {
				return err
			}
			src, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			path, err := src.Resolve(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			opts := cc.config.TailOptions(cc.logger)
			if cmd.Flags().Changed("lines") {
				opts.BacklogLines = lines
				if lines == 0 {
					opts.BacklogLines = -1
				}
			}
			out := cmd.OutOrStdout()

			if noFollow {
				r, err := tail.Open(path, opts)
				if err != nil {
					return err
				}
				defer r.Close()
				backlog, err := r.Backlog()
				if err != nil {
					return err
				}
				for _, line := range backlog {
					fmt.Fprintln(out, line)
				}
				return nil
			}

			sess, err := stream.Open(cmd.Context(), path, opts)
			if err != nil {
				return err
			}
			defer func() {
				sess.Cancel()
				<-sess.Done()
			}()
			for {
				line, err := sess.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, line)
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", tail.DefaultBacklogLines, "Number of backlog lines to print first (0 for none)")
	cmd.Flags().BoolVar(&noFollow, "no-follow", false, "Print the backlog and exit")
	return cmd
}
