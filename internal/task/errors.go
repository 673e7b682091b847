// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package task

import "errors"

var (
	ErrNotFound         = errors.New("task not found")
	ErrTaskExists       = errors.New("task already exists")
	ErrInvalidConfig    = errors.New("invalid config")
	ErrInvalidTimemark  = errors.New("invalid timemark")
	ErrSnapshotCount    = errors.New("snapshot count mismatch")
	ErrSessionStarted   = errors.New("session already started")
	ErrStreamNotAllowed = errors.New("stream source or sink not allowed here")
)
