// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package ffmpeg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZSC714725/transcodesession/internal/ffmpeg/parse"
	"github.com/ZSC714725/transcodesession/internal/process"
)

func TestNewMissingBinary(t *testing.T) {
	_, err := New(Config{Binary: "definitely-not-an-ffmpeg-binary"})
	require.Error(t, err)
	assert.ErrorIs(t, err, process.ErrSpawn)
}

func TestNewProcessRunsResolvedBinary(t *testing.T) {
	ff, err := New(Config{Binary: "sh", Sampler: process.NewNullSampler})
	require.NoError(t, err)
	assert.NotEqual(t, "sh", ff.Binary())

	var events []parse.Event
	parser := ff.NewParser(func(e parse.Event) { events = append(events, e) })

	p, err := ff.New(ProcessConfig{
		Command: []string{"-c", "echo '  Duration: 00:00:10.00, start: 0.000000, bitrate: 1 kb/s' >&2"},
		Parser:  parser,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	outcome := p.Wait()
	assert.True(t, outcome.Success())
	assert.Equal(t, []parse.Event{parse.DurationKnown{Duration: 10}}, events)
	assert.Len(t, outcome.StderrTail, 1)
}

func TestValidator(t *testing.T) {
	v, err := NewValidator([]string{`^/media/`, " "}, []string{`\.\.`})
	require.NoError(t, err)

	assert.True(t, v.IsValid("/media/in.avi"))
	assert.False(t, v.IsValid("/etc/passwd"))
	assert.False(t, v.IsValid("/media/../etc/passwd"))

	open, err := NewValidator(nil, nil)
	require.NoError(t, err)
	assert.True(t, open.IsValid("anything"))

	_, err = NewValidator([]string{"("}, nil)
	assert.Error(t, err)
}

func TestFactoryValidators(t *testing.T) {
	in, _ := NewValidator(nil, []string{`^https?://`})
	ff, err := New(Config{Binary: "sh", ValidatorInput: in})
	require.NoError(t, err)

	assert.False(t, ff.ValidateInput("http://example.com/stream"))
	assert.True(t, ff.ValidateInput("/tmp/in.avi"))
	assert.True(t, ff.ValidateOutput("http://example.com/out"))
}
