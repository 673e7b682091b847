// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package process

import (
	"errors"
	"sync"

	gopsutilprocess "github.com/shirou/gopsutil/v3/process"
)

var errNotSampling = errors.New("no process attached")

// sysSampler 使用 gopsutil 采集进程 CPU、内存和 nice 值
type sysSampler struct {
	mu   sync.RWMutex
	proc *gopsutilprocess.Process
}

// NewSysSampler 创建基于系统调用的采集器
func NewSysSampler() Sampler {
	return &sysSampler{}
}

func (s *sysSampler) Start(pid int) error {
	proc, err := gopsutilprocess.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	return nil
}

func (s *sysSampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = nil
}

func (s *sysSampler) attached() *gopsutilprocess.Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proc
}

func (s *sysSampler) Current() (cpu float64, memory uint64) {
	proc := s.attached()
	if proc == nil {
		return 0, 0
	}
	if cpuPct, err := proc.CPUPercent(); err == nil {
		cpu = cpuPct
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		memory = memInfo.RSS
	}
	return cpu, memory
}

func (s *sysSampler) Nice() (int32, error) {
	proc := s.attached()
	if proc == nil {
		return 0, errNotSampling
	}
	return proc.Nice()
}
