package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newSourcesCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured log sources and their files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, dirs, err := buildRegistry(cc.config, cc.logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, tag := range reg.Tags() {
				src := dirs[tag]
				fmt.Fprintf(out, "%s\t%s\n", tag, src.Root())

				names, err := src.List(cmd.Context())
				if err != nil {
					fmt.Fprintf(out, "  unavailable: %v\n", err)
					continue
				}
				for _, name := range names {
					info, err := os.Stat(filepath.Join(src.Root(), name))
					if err != nil {
						fmt.Fprintf(out, "  %s\n", name)
						continue
					}
					fmt.Fprintf(out, "  %s\t%s\t%s\n", name, humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
				}
			}
			return nil
		},
	}
}
