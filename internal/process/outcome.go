// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package process

import (
	"errors"
	"time"
)

// Reason codes reported by Outcome.ReasonCode for killed processes.
const (
	ReasonTimeout   = -99
	ReasonCancelled = -98
)

var (
	// ErrSpawn is returned when the binary can't be started.
	ErrSpawn = errors.New("spawn failed")
	// ErrAlreadyStarted is returned by Start on a process that was started before.
	ErrAlreadyStarted = errors.New("process already started")
	// ErrSignaled reports an exit caused by a signal this package did not send.
	ErrSignaled = errors.New("terminated by signal")
)

// OutcomeState is the terminal classification of a run
type OutcomeState string

const (
	OutcomeSuccess OutcomeState = "success"
	OutcomeKilled  OutcomeState = "killed"
	OutcomeFailed  OutcomeState = "failed"
)

// Outcome is the single terminal result of a process run
type Outcome struct {
	State      OutcomeState
	ExitCode   int
	ReasonCode int
	StdoutTail string
	StderrTail []string
	Err        error
	Runtime    time.Duration
}

// Success reports whether the process exited with code 0.
func (o Outcome) Success() bool {
	return o.State == OutcomeSuccess
}

// Line is a timestamped log line
type Line struct {
	Timestamp time.Time
	Data      string
}

// Parser consumes the stderr of a process. Feed is called with raw chunks in
// order, Flush once at end of stream.
type Parser interface {
	Feed(chunk []byte)
	Flush()
	Log() []Line
}

// Plumbing wires the standard input and output of the child.
// Attach runs before the process is started, Start right after it started.
// Wait must return once nothing reads from the child's stdout anymore. After
// terminated is closed it may give up on a stuck consumer instead. Close
// releases whatever is left after the child exited.
type Plumbing interface {
	Attach(cmd Command) error
	Start(abort func(error))
	Wait(terminated <-chan struct{})
	Close()
}
