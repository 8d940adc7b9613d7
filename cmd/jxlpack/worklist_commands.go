package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"jxlpack/internal/preflight"
	"jxlpack/internal/worklist"
)

func newWorklistCommand(ctx *commandContext) *cobra.Command {
	worklistCmd := &cobra.Command{
		Use:   "worklist",
		Short: "Inspect and reset per-root progress records",
	}
	worklistCmd.AddCommand(newWorklistListCommand(ctx))
	worklistCmd.AddCommand(newWorklistResetCommand(ctx))
	return worklistCmd
}

func newWorklistListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded worklists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			summaries, err := worklist.List(cmd.Context(), cfg.StateDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No worklists recorded")
				return nil
			}
			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				if s.Err != nil {
					rows = append(rows, []string{s.File, "-", "-", "-", "error: " + s.Err.Error()})
					continue
				}
				rows = append(rows, []string{
					s.Root.Path,
					strconv.Itoa(s.Pending),
					strconv.Itoa(s.Done),
					s.Root.CreatedAt.Local().Format("2006-01-02 15:04"),
					s.Root.Fingerprint,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Root", "Pending", "Done", "Created", "Fingerprint"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newWorklistResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <root>",
		Short: "Forget progress for a root so the next run starts over",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root := preflight.CleanInput(args[0])
			removed, err := worklist.Reset(cfg.StateDir, root)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !removed {
				fmt.Fprintf(out, "No worklist recorded for %s\n", root)
				return nil
			}
			fmt.Fprintf(out, "Worklist for %s removed\n", root)
			return nil
		},
	}
}
