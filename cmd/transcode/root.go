// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZSC714725/transcodesession/internal/config"
	"github.com/ZSC714725/transcodesession/internal/ffmpeg"
	"github.com/ZSC714725/transcodesession/internal/logger"
	"github.com/ZSC714725/transcodesession/internal/process"
	"github.com/ZSC714725/transcodesession/internal/task"
)

type commandContext struct {
	configPath string
	ffmpegPath string
	logLevel   string

	cfg *config.Config
}

func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		if cfg, err = config.Load(c.configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if c.ffmpegPath != "" {
		cfg.FFmpeg.Path = c.ffmpegPath
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	c.cfg = cfg
	return cfg, nil
}

// session builds a session for cfg with the defaults of the loaded config.
func (c *commandContext) session(cmd *cobra.Command, cfg *task.Config) (*task.Session, error) {
	conf, err := c.config()
	if err != nil {
		return nil, err
	}

	validatorIn, err := ffmpeg.NewValidator(conf.FFmpeg.Input.Allow, conf.FFmpeg.Input.Block)
	if err != nil {
		return nil, err
	}
	validatorOut, err := ffmpeg.NewValidator(conf.FFmpeg.Output.Allow, conf.FFmpeg.Output.Block)
	if err != nil {
		return nil, err
	}

	ff, err := ffmpeg.New(ffmpeg.Config{
		Binary:          conf.FFmpeg.Path,
		MaxLogLines:     conf.FFmpeg.LogLines,
		KillGrace:       conf.FFmpeg.KillGrace(),
		ValidatorInput:  validatorIn,
		ValidatorOutput: validatorOut,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = conf.FFmpeg.Timeout()
	}
	if cfg.Priority == nil {
		cfg.Priority = conf.FFmpeg.Priority
	}

	log := logger.NewWithOutput(cmd.ErrOrStderr(), "transcode", conf.Log.Level)
	return task.NewSession(ff, cfg, log), nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "transcode",
		Short:         "Run supervised FFmpeg sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&ctx.ffmpegPath, "ffmpeg", "", "FFmpeg binary (overrides config)")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level (overrides config)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newSnapshotsCommand(ctx))

	return rootCmd
}

func outcomeError(outcome process.Outcome) error {
	if outcome.Success() {
		return nil
	}
	switch {
	case outcome.State == process.OutcomeKilled && outcome.ReasonCode == process.ReasonTimeout:
		return fmt.Errorf("ffmpeg killed after timeout")
	case outcome.State == process.OutcomeKilled:
		return fmt.Errorf("ffmpeg cancelled")
	case outcome.Err != nil:
		return fmt.Errorf("ffmpeg failed (exit code %d): %w", outcome.ExitCode, outcome.Err)
	default:
		return fmt.Errorf("ffmpeg failed with exit code %d", outcome.ExitCode)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
