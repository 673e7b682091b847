// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZSC714725/transcodesession/internal/testsupport"
)

func execute(t *testing.T, stdin []byte, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRunFile(t *testing.T) {
	dir := t.TempDir()
	in := testsupport.WriteInput(t, dir, 1000)
	out := filepath.Join(dir, "out.flv")

	_, stderr, err := execute(t, nil, "--ffmpeg", testsupport.FakeFFmpeg(t, ""), "run", "-i", in, "-o", out, "--", "-c:v", "flv")
	require.NoError(t, err)
	assert.Contains(t, stderr, "video mpeg4, audio mp3")
	assert.Contains(t, stderr, "100.0%")

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, info.Size())
}

func TestRunPipes(t *testing.T) {
	data := []byte(strings.Repeat("video", 1000))

	stdout, _, err := execute(t, data, "--ffmpeg", testsupport.FakeFFmpeg(t, ""), "run", "-q", "-i", "-", "-o", "-", "-f", "flv")
	require.NoError(t, err)
	assert.Equal(t, string(data), stdout)
}

func TestRunStdoutNeedsFormat(t *testing.T) {
	_, _, err := execute(t, nil, "--ffmpeg", testsupport.FakeFFmpeg(t, ""), "run", "-i", "in.avi", "-o", "-")
	assert.Error(t, err)
}

func TestRunTimeout(t *testing.T) {
	dir := t.TempDir()
	in := testsupport.WriteInput(t, dir, 10)

	_, _, err := execute(t, nil, "--ffmpeg", testsupport.FakeFFmpeg(t, "sleep 10"), "run", "-i", in, "-o", filepath.Join(dir, "out.flv"), "--timeout", "0.2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestRunFailure(t *testing.T) {
	dir := t.TempDir()
	in := testsupport.WriteInput(t, dir, 10)

	_, _, err := execute(t, nil, "--ffmpeg", testsupport.FakeFFmpeg(t, "exit 3"), "run", "-i", in, "-o", filepath.Join(dir, "out.flv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 3")
}

func TestSnapshots(t *testing.T) {
	dir := t.TempDir()
	in := testsupport.WriteInput(t, dir, 100)
	shots := filepath.Join(dir, "shots")

	stdout, _, err := execute(t, nil, "--ffmpeg", testsupport.FakeFFmpeg(t, ""), "snapshots", "-i", in, "-d", shots, "-t", "0.5", "-t", "1")
	require.NoError(t, err)

	files := strings.Fields(stdout)
	assert.Equal(t, []string{filepath.Join(shots, "tn_1.jpg"), filepath.Join(shots, "tn_2.jpg")}, files)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	in := testsupport.WriteInput(t, dir, 10)
	path := filepath.Join(dir, "config.yaml")
	conf := "ffmpeg:\n  path: " + testsupport.FakeFFmpeg(t, "") + "\n  input:\n    block: ['\\.avi$']\n"
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o644))

	_, _, err := execute(t, nil, "-c", path, "run", "-i", in, "-o", filepath.Join(dir, "out.flv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}
