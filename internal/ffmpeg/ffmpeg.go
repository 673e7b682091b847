// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package ffmpeg

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/ZSC714725/transcodesession/internal/ffmpeg/parse"
	"github.com/ZSC714725/transcodesession/internal/logger"
	"github.com/ZSC714725/transcodesession/internal/process"
)

// FFmpeg creates processes and parsers for a resolved FFmpeg binary
type FFmpeg interface {
	Binary() string
	New(config ProcessConfig) (process.Process, error)
	NewParser(onEvent func(parse.Event)) parse.Parser
	ValidateInput(address string) bool
	ValidateOutput(address string) bool
}

// ProcessConfig for creating a process
type ProcessConfig struct {
	Command       []string
	Timeout       time.Duration
	Priority      *int
	Parser        process.Parser
	Plumbing      process.Plumbing
	Logger        logger.Logger
	OnStart       func()
	OnExit        func(process.Outcome)
	OnStateChange func(from, to string)
}

// Config for FFmpeg
type Config struct {
	Binary          string
	MaxLogLines     int
	KillGrace       time.Duration
	Env             []string
	Sampler         func() process.Sampler
	ValidatorInput  Validator
	ValidatorOutput Validator
}

type ffmpeg struct {
	binary       string
	env          []string
	killGrace    time.Duration
	sampler      func() process.Sampler
	validatorIn  Validator
	validatorOut Validator
	logLines     int
}

// New resolves the binary through PATH. A missing binary is reported as
// process.ErrSpawn.
func New(config Config) (FFmpeg, error) {
	binary, err := exec.LookPath(config.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ffmpeg binary: %v", process.ErrSpawn, err)
	}

	f := &ffmpeg{
		binary:    binary,
		env:       config.Env,
		killGrace: config.KillGrace,
		sampler:   config.Sampler,
		logLines:  config.MaxLogLines,
	}

	if f.logLines <= 0 {
		f.logLines = 100
	}
	if f.sampler == nil {
		f.sampler = process.NewSysSampler
	}

	if config.ValidatorInput != nil {
		f.validatorIn = config.ValidatorInput
	} else {
		f.validatorIn, _ = NewValidator(nil, nil)
	}
	if config.ValidatorOutput != nil {
		f.validatorOut = config.ValidatorOutput
	} else {
		f.validatorOut, _ = NewValidator(nil, nil)
	}

	return f, nil
}

func (f *ffmpeg) Binary() string {
	return f.binary
}

func (f *ffmpeg) New(config ProcessConfig) (process.Process, error) {
	return process.New(process.Config{
		Binary:        f.binary,
		Args:          config.Command,
		Env:           f.env,
		Timeout:       config.Timeout,
		KillGrace:     f.killGrace,
		Priority:      config.Priority,
		Parser:        config.Parser,
		Plumbing:      config.Plumbing,
		Sampler:       f.sampler(),
		Logger:        config.Logger,
		OnStart:       config.OnStart,
		OnExit:        config.OnExit,
		OnStateChange: config.OnStateChange,
	})
}

func (f *ffmpeg) NewParser(onEvent func(parse.Event)) parse.Parser {
	return parse.New(parse.Config{LogLines: f.logLines, OnEvent: onEvent})
}

func (f *ffmpeg) ValidateInput(address string) bool {
	return f.validatorIn.IsValid(address)
}

func (f *ffmpeg) ValidateOutput(address string) bool {
	return f.validatorOut.IsValid(address)
}
