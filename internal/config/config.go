// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server ServerConfig `yaml:"server"`
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Bind string `yaml:"bind"`
}

// FFmpegConfig FFmpeg 配置
type FFmpegConfig struct {
	Path             string        `yaml:"path"`
	LogLines         int           `yaml:"log_lines"`
	KillGraceSeconds float64       `yaml:"kill_grace_seconds"`
	TimeoutSeconds   float64       `yaml:"timeout_seconds"`
	Priority         *int          `yaml:"priority"`
	Input            AddressFilter `yaml:"input"`
	Output           AddressFilter `yaml:"output"`
}

// AddressFilter 输入/输出地址的正则白名单与黑名单
type AddressFilter struct {
	Allow []string `yaml:"allow"`
	Block []string `yaml:"block"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
}

// KillGrace returns the configured grace window between SIGINT and SIGKILL.
func (c FFmpegConfig) KillGrace() time.Duration {
	return seconds(c.KillGraceSeconds)
}

// Timeout returns the default session timeout, zero meaning none.
func (c FFmpegConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{Bind: ":8080"},
		FFmpeg: FFmpegConfig{
			Path:             "ffmpeg",
			LogLines:         100,
			KillGraceSeconds: 5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load 从 YAML 文件加载配置
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 填充空值
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = ":8080"
	}
	if cfg.FFmpeg.Path == "" {
		cfg.FFmpeg.Path = "ffmpeg"
	}
	if cfg.FFmpeg.LogLines <= 0 {
		cfg.FFmpeg.LogLines = 100
	}
	if cfg.FFmpeg.KillGraceSeconds <= 0 {
		cfg.FFmpeg.KillGraceSeconds = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return cfg, nil
}
