// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package api

// SessionRequest for Add. Input and Output are file paths or URLs
type SessionRequest struct {
	ID             string   `json:"id"`
	Reference      string   `json:"reference"`
	Input          string   `json:"input" binding:"required"`
	InputOptions   []string `json:"input_options"`
	Output         string   `json:"output" binding:"required"`
	Format         string   `json:"format"`
	Options        []string `json:"options"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
	Priority       *int     `json:"priority"`
}

// SnapshotRequest for still image extraction
type SnapshotRequest struct {
	ID             string   `json:"id"`
	Reference      string   `json:"reference"`
	Input          string   `json:"input" binding:"required"`
	InputOptions   []string `json:"input_options"`
	Options        []string `json:"options"`
	Folder         string   `json:"folder" binding:"required"`
	Count          int      `json:"count"`
	Timemarks      []string `json:"timemarks"`
	Size           string   `json:"size"`
	Filename       string   `json:"filename"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
	Priority       *int     `json:"priority"`
}

// Session represents a task in API response
type Session struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Reference string         `json:"reference"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
	Config    *SessionConfig `json:"config,omitempty"`
	State     *SessionState  `json:"state,omitempty"`
	Report    *SessionReport `json:"report,omitempty"`
}

// SessionConfig in API format
type SessionConfig struct {
	Input          string   `json:"input"`
	InputOptions   []string `json:"input_options"`
	Output         string   `json:"output,omitempty"`
	Format         string   `json:"format,omitempty"`
	Options        []string `json:"options"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
	Priority       *int     `json:"priority,omitempty"`
	Folder         string   `json:"folder,omitempty"`
	Count          int      `json:"count,omitempty"`
	Timemarks      []string `json:"timemarks,omitempty"`
	Size           string   `json:"size,omitempty"`
}

// SessionState for API
type SessionState struct {
	State    string    `json:"exec"`
	Runtime  int64     `json:"runtime_seconds"`
	PID      int       `json:"pid"`
	Nice     int32     `json:"nice"`
	Memory   uint64    `json:"memory_bytes"`
	CPU      float64   `json:"cpu_usage"`
	Command  []string  `json:"command"`
	Progress *Progress `json:"progress"`
	Codec    *Codec    `json:"codec,omitempty"`
	Outcome  *Outcome  `json:"outcome,omitempty"`
	Files    []string  `json:"files,omitempty"`
}

// Progress from FFmpeg parser
type Progress struct {
	Frame     uint64   `json:"frame"`
	FPS       float64  `json:"fps"`
	Size      uint64   `json:"size_bytes"`
	Time      float64  `json:"time_seconds"`
	Bitrate   float64  `json:"bitrate_kbit"`
	Speed     float64  `json:"speed"`
	Drop      uint64   `json:"drop"`
	Dup       uint64   `json:"dup"`
	Quantizer float64  `json:"q"`
	Percent   *float64 `json:"percent,omitempty"`
}

// Codec of the input
type Codec struct {
	Format       string  `json:"format"`
	Video        string  `json:"video"`
	VideoDetails string  `json:"video_details"`
	Audio        string  `json:"audio"`
	AudioDetails string  `json:"audio_details"`
	Duration     float64 `json:"duration_seconds"`
}

// Outcome of a finished session
type Outcome struct {
	State      string  `json:"state"`
	ExitCode   int     `json:"exit_code"`
	ReasonCode int     `json:"reason_code,omitempty"`
	Error      string  `json:"error,omitempty"`
	Runtime    float64 `json:"runtime_seconds"`
}

// SessionReport for logs
type SessionReport struct {
	CreatedAt  int64       `json:"created_at"`
	Log        [][2]string `json:"log"`
	StdoutTail string      `json:"stdout_tail,omitempty"`
}

// CommandRequest for cancel
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// ErrorResponse for API errors
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
