// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZSC714725/transcodesession/internal/bridge"
	"github.com/ZSC714725/transcodesession/internal/task"
)

func newSnapshotsCommand(ctx *commandContext) *cobra.Command {
	var (
		input   string
		dir     string
		options task.SnapshotOptions
		timeout float64
	)

	cmd := &cobra.Command{
		Use:   "snapshots --input <path|-> --dir <folder>",
		Short: "Extract still images from a video",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &task.Config{
				Options: args,
				Timeout: seconds(timeout),
			}
			if input == "-" {
				cfg.Source = bridge.Source{Reader: cmd.InOrStdin()}
			} else {
				cfg.Source = bridge.Source{Path: input}
			}

			session, err := ctx.session(cmd, cfg)
			if err != nil {
				return err
			}

			outcome, files := session.TakeSnapshots(cmd.Context(), options, dir)
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return outcomeError(outcome)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Input path, - for stdin")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Destination folder")
	cmd.Flags().IntVarP(&options.Count, "count", "n", 0, "Number of images")
	cmd.Flags().StringArrayVarP(&options.Timemarks, "timemark", "t", nil, "Offset in seconds, HH:MM:SS or percent (repeatable)")
	cmd.Flags().StringVarP(&options.Size, "size", "s", "", "Image size: WxH, Wx? or ?xH")
	cmd.Flags().StringVar(&options.Filename, "filename", "", "File name pattern containing %d")
	cmd.Flags().Float64Var(&timeout, "timeout", 0, "Kill FFmpeg after this many seconds")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}
