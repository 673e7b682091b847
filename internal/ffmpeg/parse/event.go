// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package parse

// Event is produced by the parser for a classified stderr line.
// It is one of CodecDetected, DurationKnown, ProgressUpdate or ErrorDetected.
type Event interface {
	event()
}

// CodecDetected carries the codecs of the first input. Audio and Video are
// always both set.
type CodecDetected struct {
	Format       string  `json:"format"`
	Audio        string  `json:"audio"`
	AudioDetails string  `json:"audio_details"`
	Video        string  `json:"video"`
	VideoDetails string  `json:"video_details"`
	Duration     float64 `json:"duration_seconds"`
}

// DurationKnown reports the total input duration in seconds.
type DurationKnown struct {
	Duration float64 `json:"duration_seconds"`
}

// ProgressUpdate is a snapshot taken from a progress line.
type ProgressUpdate struct {
	Progress
}

// ErrorDetected is a line matching a fatal error pattern.
type ErrorDetected struct {
	Message string `json:"message"`
}

func (CodecDetected) event()  {}
func (DurationKnown) event()  {}
func (ProgressUpdate) event() {}
func (ErrorDetected) event()  {}
