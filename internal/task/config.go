// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package task

import (
	"fmt"
	"time"

	"github.com/ZSC714725/transcodesession/internal/bridge"
	"github.com/ZSC714725/transcodesession/internal/ffmpeg"
)

// Config for a transcoding session. InputOptions go before the input,
// Options between input and output. Both are passed through unchanged.
type Config struct {
	ID           string
	Reference    string
	Source       bridge.Source
	Sink         bridge.Sink
	InputOptions []string
	Options      []string
	Timeout      time.Duration
	Priority     *int
}

// CreateCommand builds FFmpeg args from config
func (c *Config) CreateCommand() []string {
	cmd := []string{"-y"}
	cmd = append(cmd, c.InputOptions...)
	cmd = append(cmd, c.Source.Args()...)
	cmd = append(cmd, c.Options...)
	cmd = append(cmd, c.Sink.Args()...)
	return cmd
}

// Validate checks the shape of source and sink and the path addresses
// against the validators of ff.
func (c *Config) Validate(ff ffmpeg.FFmpeg) error {
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Sink.Validate(); err != nil {
		return err
	}
	if !c.Source.IsStream() && !ff.ValidateInput(c.Source.Path) {
		return fmt.Errorf("%w: address %q not allowed", bridge.ErrInvalidSource, c.Source.Path)
	}
	if !c.Sink.IsStream() && !ff.ValidateOutput(c.Sink.Path) {
		return fmt.Errorf("%w: address %q not allowed", bridge.ErrInvalidSink, c.Sink.Path)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	return nil
}

// Clone returns a copy with its own slices; streams are shared.
func (c *Config) Clone() *Config {
	out := *c
	out.InputOptions = append([]string(nil), c.InputOptions...)
	out.Options = append([]string(nil), c.Options...)
	if c.Priority != nil {
		p := *c.Priority
		out.Priority = &p
	}
	return &out
}
