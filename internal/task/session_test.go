// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package task

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZSC714725/transcodesession/internal/bridge"
	"github.com/ZSC714725/transcodesession/internal/ffmpeg"
	"github.com/ZSC714725/transcodesession/internal/ffmpeg/parse"
	"github.com/ZSC714725/transcodesession/internal/process"
	"github.com/ZSC714725/transcodesession/internal/testsupport"
)

func newFFmpeg(t *testing.T, extra string) ffmpeg.FFmpeg {
	t.Helper()
	ff, err := ffmpeg.New(ffmpeg.Config{
		Binary:    testsupport.FakeFFmpeg(t, extra),
		KillGrace: 500 * time.Millisecond,
		Sampler:   process.NewNullSampler,
	})
	require.NoError(t, err)
	return ff
}

func fileConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		Source: bridge.Source{Path: testsupport.WriteInput(t, dir, 4096)},
		Sink:   bridge.Sink{Path: filepath.Join(dir, "out.flv")},
	}
}

func TestCreateCommand(t *testing.T) {
	cfg := &Config{
		Source:       bridge.Source{Path: "in.avi"},
		Sink:         bridge.Sink{Path: "out.flv"},
		InputOptions: []string{"-re"},
		Options:      []string{"-c:v", "flv"},
	}
	assert.Equal(t, []string{"-y", "-re", "-i", "in.avi", "-c:v", "flv", "out.flv"}, cfg.CreateCommand())

	cfg.Source = bridge.Source{Reader: bytes.NewReader(nil)}
	cfg.Sink = bridge.Sink{Writer: &bytes.Buffer{}, Format: "flv"}
	assert.Equal(t, []string{"-y", "-re", "-i", "pipe:0", "-c:v", "flv", "-f", "flv", "pipe:1"}, cfg.CreateCommand())
}

func TestConfigClone(t *testing.T) {
	nice := 5
	cfg := &Config{Options: []string{"-an"}, Priority: &nice}
	clone := cfg.Clone()
	clone.Options[0] = "-vn"
	*clone.Priority = 10

	assert.Equal(t, "-an", cfg.Options[0])
	assert.Equal(t, 5, *cfg.Priority)
}

func TestRunFileToFile(t *testing.T) {
	cfg := fileConfig(t)
	s := NewSession(newFFmpeg(t, ""), cfg, nil)

	outcome := s.Run(context.Background())
	require.True(t, outcome.Success(), "%+v", outcome)
	assert.Equal(t, 0, outcome.ExitCode)

	info, err := os.Stat(cfg.Sink.Path)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, info.Size())

	assert.Equal(t, "finished", s.Status().State)
	assert.NotEmpty(t, s.Log())
	assert.Equal(t, 2.0, s.Progress().Time)
}

func TestCodecDataFiresOnce(t *testing.T) {
	s := NewSession(newFFmpeg(t, ""), fileConfig(t), nil)

	var codecs []parse.CodecDetected
	s.OnCodecData(func(c parse.CodecDetected) { codecs = append(codecs, c) })

	outcome := s.Run(context.Background())
	require.True(t, outcome.Success())
	require.Len(t, codecs, 1)
	assert.Equal(t, "avi", codecs[0].Format)
	assert.Equal(t, "mpeg4", codecs[0].Video)
	assert.Equal(t, "mp3", codecs[0].Audio)
	assert.Equal(t, 2.0, codecs[0].Duration)
	assert.Equal(t, &codecs[0], s.Codec())
}

func TestProgressListenersInOrder(t *testing.T) {
	s := NewSession(newFFmpeg(t, ""), fileConfig(t), nil)

	var calls []string
	var times []float64
	s.OnProgress(func(p parse.ProgressUpdate) {
		calls = append(calls, "first")
		times = append(times, p.Time)
	}).OnProgress(func(parse.ProgressUpdate) {
		calls = append(calls, "second")
	})

	outcome := s.Run(context.Background())
	require.True(t, outcome.Success())

	require.Len(t, times, 2)
	assert.Equal(t, []string{"first", "second", "first", "second"}, calls)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i], times[i-1])
	}

	p := s.Progress()
	require.NotNil(t, p.Percent)
	assert.Equal(t, 100.0, *p.Percent)
}

func TestErrorListener(t *testing.T) {
	s := NewSession(newFFmpeg(t, `echo "Conversion failed!" >&2; exit 1`), fileConfig(t), nil)

	var messages []string
	s.OnError(func(e parse.ErrorDetected) { messages = append(messages, e.Message) })

	outcome := s.Run(context.Background())
	assert.Equal(t, process.OutcomeFailed, outcome.State)
	assert.Equal(t, 1, outcome.ExitCode)
	assert.Equal(t, []string{"Conversion failed!"}, messages)
}

func TestRunTimeout(t *testing.T) {
	cfg := fileConfig(t)
	cfg.Timeout = 200 * time.Millisecond
	s := NewSession(newFFmpeg(t, "sleep 10"), cfg, nil)

	start := time.Now()
	outcome := s.Run(context.Background())

	assert.Equal(t, process.OutcomeKilled, outcome.State)
	assert.Equal(t, process.ReasonTimeout, outcome.ReasonCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCancelWhileRunning(t *testing.T) {
	s := NewSession(newFFmpeg(t, "sleep 10"), fileConfig(t), nil)

	var once sync.Once
	s.OnProgress(func(parse.ProgressUpdate) { once.Do(s.Cancel) })

	outcome := s.Run(context.Background())
	assert.Equal(t, process.OutcomeKilled, outcome.State)
	assert.Equal(t, process.ReasonCancelled, outcome.ReasonCode)
}

func TestContextCancel(t *testing.T) {
	s := NewSession(newFFmpeg(t, "sleep 10"), fileConfig(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.OnProgress(func(parse.ProgressUpdate) { cancel() })

	outcome := s.Run(ctx)
	assert.Equal(t, process.OutcomeKilled, outcome.State)
	assert.Equal(t, process.ReasonCancelled, outcome.ReasonCode)
}

func TestCancelAfterResolutionIsNoop(t *testing.T) {
	s := NewSession(newFFmpeg(t, ""), fileConfig(t), nil)

	first := s.Run(context.Background())
	require.True(t, first.Success())

	s.Cancel()
	second, ok := s.Outcome()
	require.True(t, ok)
	assert.Equal(t, first, second)

	third := s.Run(context.Background())
	assert.ErrorIs(t, third.Err, ErrSessionStarted)
}

func TestCancelBeforeRun(t *testing.T) {
	s := NewSession(newFFmpeg(t, ""), fileConfig(t), nil)
	s.Cancel()

	outcome := s.Run(context.Background())
	assert.Equal(t, process.OutcomeKilled, outcome.State)
	assert.Equal(t, process.ReasonCancelled, outcome.ReasonCode)
	assert.Equal(t, "idle", s.Status().State)
}

func TestOutcomeBeforeRun(t *testing.T) {
	s := NewSession(newFFmpeg(t, ""), fileConfig(t), nil)

	_, ok := s.Outcome()
	assert.False(t, ok)
	select {
	case <-s.Done():
		t.Fatal("done before run")
	default:
	}
}

func TestInvalidConfigNeverSpawns(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  error
	}{
		{"no source", Config{Sink: bridge.Sink{Path: "out.flv"}}, bridge.ErrInvalidSource},
		{"both source", Config{Source: bridge.Source{Path: "in", Reader: bytes.NewReader(nil)}, Sink: bridge.Sink{Path: "out.flv"}}, bridge.ErrInvalidSource},
		{"no sink", Config{Source: bridge.Source{Path: "in"}}, bridge.ErrInvalidSink},
		{"stream sink without format", Config{Source: bridge.Source{Path: "in"}, Sink: bridge.Sink{Writer: &bytes.Buffer{}}}, bridge.ErrInvalidSink},
		{"negative timeout", Config{Source: bridge.Source{Path: "in"}, Sink: bridge.Sink{Path: "out"}, Timeout: -time.Second}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(newFFmpeg(t, ""), &tt.cfg, nil)
			outcome := s.Run(context.Background())
			assert.Equal(t, process.OutcomeFailed, outcome.State)
			assert.ErrorIs(t, outcome.Err, tt.err)
			assert.Equal(t, "idle", s.Status().State)
		})
	}
}

func TestBlockedAddressNeverSpawns(t *testing.T) {
	block, err := ffmpeg.NewValidator(nil, []string{`\.flv$`})
	require.NoError(t, err)
	ff, err := ffmpeg.New(ffmpeg.Config{
		Binary:          testsupport.FakeFFmpeg(t, ""),
		Sampler:         process.NewNullSampler,
		ValidatorOutput: block,
	})
	require.NoError(t, err)

	s := NewSession(ff, fileConfig(t), nil)
	outcome := s.Run(context.Background())
	assert.ErrorIs(t, outcome.Err, bridge.ErrInvalidSink)
	assert.Equal(t, "idle", s.Status().State)
}

func TestStreamSourceToFile(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 10000)
	out := filepath.Join(t.TempDir(), "out.flv")
	cfg := &Config{
		Source: bridge.Source{Reader: bytes.NewReader(data)},
		Sink:   bridge.Sink{Path: out},
	}
	s := NewSession(newFFmpeg(t, ""), cfg, nil)

	outcome := s.Run(context.Background())
	require.True(t, outcome.Success(), "%+v", outcome)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileToStreamSink(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	cfg := &Config{
		Source: bridge.Source{Path: testsupport.WriteInput(t, dir, 8192)},
		Sink:   bridge.Sink{Writer: &buf, Format: "flv"},
	}
	s := NewSession(newFFmpeg(t, ""), cfg, nil)

	outcome := s.Run(context.Background())
	require.True(t, outcome.Success(), "%+v", outcome)
	assert.EqualValues(t, 8192, s.Written())
	assert.Equal(t, 8192, buf.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestSinkStreamFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Source: bridge.Source{Path: testsupport.WriteInput(t, dir, 8192)},
		Sink:   bridge.Sink{Writer: failingWriter{}, Format: "flv"},
	}
	s := NewSession(newFFmpeg(t, ""), cfg, nil)

	outcome := s.Run(context.Background())
	assert.Equal(t, process.OutcomeFailed, outcome.State)
	assert.ErrorIs(t, outcome.Err, bridge.ErrSinkStream)
}

type stuckWriter struct {
	release chan struct{}
}

func (w stuckWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

func TestTimeoutWithBlockedSink(t *testing.T) {
	w := stuckWriter{release: make(chan struct{})}
	defer close(w.release)

	dir := t.TempDir()
	cfg := &Config{
		Source:  bridge.Source{Path: testsupport.WriteInput(t, dir, 1<<20)},
		Sink:    bridge.Sink{Writer: w, Format: "flv"},
		Timeout: 200 * time.Millisecond,
	}
	s := NewSession(newFFmpeg(t, ""), cfg, nil)

	resolved := make(chan process.Outcome, 1)
	go func() { resolved <- s.Run(context.Background()) }()

	select {
	case outcome := <-resolved:
		assert.Equal(t, process.OutcomeKilled, outcome.State)
		assert.Equal(t, process.ReasonTimeout, outcome.ReasonCode)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not resolve with a blocked sink writer")
	}
}

func TestCancelWithBlockedSink(t *testing.T) {
	w := stuckWriter{release: make(chan struct{})}
	defer close(w.release)

	dir := t.TempDir()
	cfg := &Config{
		Source: bridge.Source{Path: testsupport.WriteInput(t, dir, 1<<20)},
		Sink:   bridge.Sink{Writer: w, Format: "flv"},
	}
	s := NewSession(newFFmpeg(t, ""), cfg, nil)

	resolved := make(chan process.Outcome, 1)
	go func() { resolved <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return s.Status().State == "running" }, 5*time.Second, 10*time.Millisecond)
	s.Cancel()

	select {
	case outcome := <-resolved:
		assert.Equal(t, process.OutcomeKilled, outcome.State)
		assert.Equal(t, process.ReasonCancelled, outcome.ReasonCode)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled session did not resolve with a blocked sink writer")
	}
}
