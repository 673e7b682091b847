// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZSC714725/transcodesession/internal/bridge"
	"github.com/ZSC714725/transcodesession/internal/ffmpeg/parse"
	"github.com/ZSC714725/transcodesession/internal/task"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		input   string
		output  string
		format  string
		timeout float64
		nice    int
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "run --input <path|-> --output <path|-> [-- ffmpeg options]",
		Short: "Transcode one input into one output",
		Long: "Transcode one input into one output. Arguments after -- are passed to FFmpeg " +
			"between input and output. \"-\" reads the input from stdin or writes the output to stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &task.Config{
				Options: args,
				Timeout: seconds(timeout),
			}
			if cmd.Flags().Changed("nice") {
				cfg.Priority = &nice
			}

			if input == "-" {
				cfg.Source = bridge.Source{Reader: cmd.InOrStdin()}
			} else {
				cfg.Source = bridge.Source{Path: input}
			}
			if output == "-" {
				cfg.Sink = bridge.Sink{Writer: cmd.OutOrStdout(), Format: format}
			} else {
				cfg.Sink = bridge.Sink{Path: output, Format: format}
			}

			session, err := ctx.session(cmd, cfg)
			if err != nil {
				return err
			}

			status := cmd.ErrOrStderr()
			session.OnCodecData(func(c parse.CodecDetected) {
				fmt.Fprintf(status, "input: %s, video %s, audio %s, duration %.2fs\n", c.Format, c.Video, c.Audio, c.Duration)
			})
			if !quiet {
				session.OnProgress(func(p parse.ProgressUpdate) {
					if p.Percent != nil {
						fmt.Fprintf(status, "frame=%d time=%.2fs speed=%.2fx %.1f%%\n", p.Frame, p.Time, p.Speed, *p.Percent)
						return
					}
					fmt.Fprintf(status, "frame=%d time=%.2fs speed=%.2fx\n", p.Frame, p.Time, p.Speed)
				})
			}

			return outcomeError(session.Run(cmd.Context()))
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Input path or URL, - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path, - for stdout")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output container format (required for stdout)")
	cmd.Flags().Float64Var(&timeout, "timeout", 0, "Kill FFmpeg after this many seconds")
	cmd.Flags().IntVar(&nice, "nice", 0, "Niceness of the FFmpeg process (-20..19)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
