// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package process

// Sampler samples CPU/memory usage and niceness of a running process.
// NullSampler does nothing.
type Sampler interface {
	Start(pid int) error
	Stop()
	Current() (cpu float64, memory uint64)
	Nice() (int32, error)
}

type nullSampler struct{}

// NewNullSampler returns a no-op sampler
func NewNullSampler() Sampler {
	return &nullSampler{}
}

func (s *nullSampler) Start(pid int) error        { return nil }
func (s *nullSampler) Stop()                      {}
func (s *nullSampler) Current() (float64, uint64) { return 0, 0 }
func (s *nullSampler) Nice() (int32, error)       { return 0, nil }
