// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesAndFillsBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  bind: ""
ffmpeg:
  path: /usr/local/bin/ffmpeg
  timeout_seconds: 0.5
  priority: 19
  input:
    block: ["^http://"]
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Bind)
	assert.Equal(t, "/usr/local/bin/ffmpeg", cfg.FFmpeg.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.FFmpeg.Timeout())
	assert.Equal(t, 5*time.Second, cfg.FFmpeg.KillGrace())
	assert.Equal(t, 100, cfg.FFmpeg.LogLines)
	require.NotNil(t, cfg.FFmpeg.Priority)
	assert.Equal(t, 19, *cfg.FFmpeg.Priority)
	assert.Equal(t, []string{"^http://"}, cfg.FFmpeg.Input.Block)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
