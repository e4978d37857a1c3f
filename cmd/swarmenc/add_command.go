package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"swarmenc/internal/remote"
	"swarmenc/internal/server"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var req server.AddProjectRequest

	cmd := &cobra.Command{
		Use:   "add [flags] input...",
		Short: "Submit inputs to the coordinator as new projects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := ctx.target()
			if err != nil {
				return err
			}
			client := remote.NewClient(target)

			for _, input := range args {
				abs, err := filepath.Abs(input)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", input, err)
				}
				submission := req
				submission.PathIn = abs

				id, err := client.AddProject(cmd.Context(), submission)
				if err != nil {
					return fmt.Errorf("submit %s: %w", input, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, abs)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Encoder, "encoder", "aom", "Encoder to use (aom or vpx)")
	cmd.Flags().StringVar(&req.EncoderParams, "encoder-params", "", "Arguments passed to the encoder")
	cmd.Flags().StringVar(&req.FFmpegParams, "ffmpeg-params", "", "Arguments passed to the ffmpeg decode step")
	cmd.Flags().IntVar(&req.MinFrames, "min-frames", 0, "Minimum frames per scene (0 uses the coordinator default)")
	cmd.Flags().IntVar(&req.MaxFrames, "max-frames", 0, "Maximum frames per scene (0 uses the coordinator default)")
	cmd.Flags().IntVar(&req.Priority, "priority", 0, "Assignment priority; lower is assigned first")
	cmd.Flags().BoolVar(&req.Grain, "grain", false, "Apply film grain tables during the second pass")
	cmd.Flags().StringVar(&req.OnComplete, "on-complete", "", "Named action to run after joining (cleanup, remove)")
	return cmd
}
