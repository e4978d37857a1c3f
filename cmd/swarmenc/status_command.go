package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"swarmenc/internal/remote"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show coordinator projects and encode throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := ctx.target()
			if err != nil {
				return err
			}

			report, err := remote.NewClient(target).Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.LastEncode != "" {
				fmt.Fprintf(out, "%d frames/hour (last encode %s)\n", report.FramesPerHour, report.LastEncode)
			} else {
				fmt.Fprintf(out, "%d frames/hour\n", report.FramesPerHour)
			}

			if len(report.Projects) == 0 {
				fmt.Fprintln(out, "no projects")
				return nil
			}

			rows := make([][]string, 0, len(report.Projects))
			for _, p := range report.Projects {
				rows = append(rows, []string{
					p.ProjectID,
					string(p.Status),
					fmt.Sprintf("%d/%d", p.DoneFrames, p.TotalFrames),
					strconv.Itoa(p.JobCount),
					strconv.Itoa(p.SceneCount),
					strconv.Itoa(p.Priority),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"project", "status", "frames", "jobs", "scenes", "priority"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}
