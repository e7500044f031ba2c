package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/fountaind/internal/command"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Check command files for syntax errors",
	Long: `Parse each command file and report its size and length, or the first
invalid line.

Examples:
  fountaind validate songs/overture.txt songs/finale.txt
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		tl, err := command.LoadFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "%s: %d lines, %d commands, ends at %s\n",
			path, tl.Len(), tl.CommandCount(), command.FormatTime(uint32(tl.End().Milliseconds())))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files invalid", failed, len(args))
	}
	return nil
}
