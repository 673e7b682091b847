// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

//go:build windows

package process

import (
	"errors"
	"os/exec"
)

func configureCommand(cmd *exec.Cmd) {}

// interrupt always kills, windows has no SIGINT for child processes.
func interrupt(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func setPriority(pid, nice int) error {
	return errors.New("priority adjustment is not supported on windows")
}
