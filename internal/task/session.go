// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package task

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/ZSC714725/transcodesession/internal/bridge"
	"github.com/ZSC714725/transcodesession/internal/ffmpeg"
	"github.com/ZSC714725/transcodesession/internal/ffmpeg/parse"
	"github.com/ZSC714725/transcodesession/internal/logger"
	"github.com/ZSC714725/transcodesession/internal/process"
)

// FileSystem is what sessions need from the filesystem to prepare and
// verify artifacts.
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	CreateTemp(dir, pattern string) (*os.File, error)
	Remove(name string) error
}

type osFS struct{}

func (osFS) MkdirAll(path string, perm os.FileMode) error     { return os.MkdirAll(path, perm) }
func (osFS) Stat(name string) (os.FileInfo, error)            { return os.Stat(name) }
func (osFS) CreateTemp(dir, pattern string) (*os.File, error) { return os.CreateTemp(dir, pattern) }
func (osFS) Remove(name string) error                         { return os.Remove(name) }

// Session is one FFmpeg invocation producing exactly one outcome
type Session struct {
	ID        string
	Reference string

	config *Config
	ffmpeg ffmpeg.FFmpeg
	fs     FileSystem
	logger logger.Logger

	listeners struct {
		codec    []func(parse.CodecDetected)
		progress []func(parse.ProgressUpdate)
		errors   []func(parse.ErrorDetected)
		lock     sync.Mutex
	}

	lock      sync.Mutex
	started   bool
	cancelled bool
	cancel    context.CancelFunc
	proc      process.Process
	parser    parse.Parser
	bridge    *bridge.Bridge
	codec     *parse.CodecDetected
	outcome   process.Outcome
	done      chan struct{}
}

// NewSession creates a session for config. The config is copied.
func NewSession(ff ffmpeg.FFmpeg, config *Config, log logger.Logger) *Session {
	if log == nil {
		log = logger.Nop()
	}
	cfg := config.Clone()
	return &Session{
		ID:        cfg.ID,
		Reference: cfg.Reference,
		config:    cfg,
		ffmpeg:    ff,
		fs:        osFS{},
		logger:    log,
		done:      make(chan struct{}),
	}
}

// WithFileSystem replaces the filesystem used for snapshots.
func (s *Session) WithFileSystem(fs FileSystem) *Session {
	s.fs = fs
	return s
}

// OnCodecData registers fn for the codec summary of the input. It fires at most once.
func (s *Session) OnCodecData(fn func(parse.CodecDetected)) *Session {
	s.listeners.lock.Lock()
	defer s.listeners.lock.Unlock()
	s.listeners.codec = append(s.listeners.codec, fn)
	return s
}

// OnProgress registers fn for progress updates.
func (s *Session) OnProgress(fn func(parse.ProgressUpdate)) *Session {
	s.listeners.lock.Lock()
	defer s.listeners.lock.Unlock()
	s.listeners.progress = append(s.listeners.progress, fn)
	return s
}

// OnError registers fn for fatal lines reported by FFmpeg.
func (s *Session) OnError(fn func(parse.ErrorDetected)) *Session {
	s.listeners.lock.Lock()
	defer s.listeners.lock.Unlock()
	s.listeners.errors = append(s.listeners.errors, fn)
	return s
}

func (s *Session) dispatch(e parse.Event) {
	s.listeners.lock.Lock()
	codec := s.listeners.codec
	progress := s.listeners.progress
	errs := s.listeners.errors
	s.listeners.lock.Unlock()

	switch ev := e.(type) {
	case parse.CodecDetected:
		s.lock.Lock()
		s.codec = &ev
		s.lock.Unlock()
		s.logger.Debug("input %s: video %s, audio %s", ev.Format, ev.Video, ev.Audio)
		for _, fn := range codec {
			fn(ev)
		}
	case parse.ProgressUpdate:
		for _, fn := range progress {
			fn(ev)
		}
	case parse.ErrorDetected:
		s.logger.Warn("ffmpeg: %s", ev.Message)
		for _, fn := range errs {
			fn(ev)
		}
	}
}

// begin marks the session as started and derives the cancellable context.
func (s *Session) begin(ctx context.Context) (context.Context, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return nil, false
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	if s.cancelled {
		s.cancel()
	}
	return ctx, true
}

func (s *Session) finish(outcome process.Outcome) process.Outcome {
	s.lock.Lock()
	s.outcome = outcome
	cancel := s.cancel
	s.lock.Unlock()
	cancel()
	close(s.done)

	switch outcome.State {
	case process.OutcomeSuccess:
		s.logger.Info("session finished in %s", outcome.Runtime.Round(time.Millisecond))
	case process.OutcomeKilled:
		s.logger.Info("session killed (reason %d)", outcome.ReasonCode)
	default:
		s.logger.Error("session failed with exit code %d: %v", outcome.ExitCode, outcome.Err)
	}
	return outcome
}

// Run validates the config, runs FFmpeg and returns its outcome. Listeners
// have seen every event by the time Run returns.
func (s *Session) Run(ctx context.Context) process.Outcome {
	ctx, ok := s.begin(ctx)
	if !ok {
		return failed(ErrSessionStarted)
	}

	if err := s.config.Validate(s.ffmpeg); err != nil {
		return s.finish(failed(err))
	}

	b, err := bridge.New(s.config.Source, s.config.Sink, 0, s.logger)
	if err != nil {
		return s.finish(failed(err))
	}

	parser := s.ffmpeg.NewParser(s.dispatch)
	return s.finish(s.execute(ctx, s.config.CreateCommand(), b, parser, newBudget(s.config.Timeout)))
}

// budget is the wall clock left to a session. The zero value is unlimited.
type budget struct {
	end time.Time
}

func newBudget(timeout time.Duration) budget {
	if timeout <= 0 {
		return budget{}
	}
	return budget{end: time.Now().Add(timeout)}
}

// left returns the remaining time, zero meaning unlimited, and false once it is spent.
func (b budget) left() (time.Duration, bool) {
	if b.end.IsZero() {
		return 0, true
	}
	d := time.Until(b.end)
	return d, d > 0
}

// execute runs one FFmpeg process within what is left of the budget. A
// cancelled context or a spent budget never spawns.
func (s *Session) execute(ctx context.Context, args []string, b *bridge.Bridge, parser parse.Parser, bud budget) process.Outcome {
	if ctx.Err() != nil {
		return killed(process.ReasonCancelled)
	}
	timeout, ok := bud.left()
	if !ok {
		return killed(process.ReasonTimeout)
	}

	cfg := ffmpeg.ProcessConfig{
		Command:  args,
		Timeout:  timeout,
		Priority: s.config.Priority,
		Parser:   parser,
		Logger:   s.logger,
		OnStateChange: func(from, to string) {
			s.logger.Debug("state %s -> %s", from, to)
		},
	}
	if b != nil {
		cfg.Plumbing = b
	}

	proc, err := s.ffmpeg.New(cfg)
	if err != nil {
		return failed(err)
	}

	s.lock.Lock()
	s.proc = proc
	s.parser = parser
	s.bridge = b
	s.lock.Unlock()

	if err := proc.Start(ctx); err != nil {
		s.logger.Error("start: %v", err)
	}
	return proc.Wait()
}

// Cancel stops the session. Cancelling before Run makes Run resolve as
// killed without spawning. It is a no-op once the outcome is known.
func (s *Session) Cancel() {
	select {
	case <-s.done:
		return
	default:
	}

	s.lock.Lock()
	s.cancelled = true
	cancel := s.cancel
	s.lock.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Done is closed once the outcome is known.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Outcome returns the outcome and whether the session has finished.
func (s *Session) Outcome() (process.Outcome, bool) {
	select {
	case <-s.done:
	default:
		return process.Outcome{}, false
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.outcome, true
}

// Config returns a copy of the session config.
func (s *Session) Config() *Config {
	return s.config.Clone()
}

// Command returns the arguments of a transcode run.
func (s *Session) Command() []string {
	return s.config.CreateCommand()
}

// Codec returns the detected codecs, if any.
func (s *Session) Codec() *parse.CodecDetected {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.codec
}

// Progress returns the last parsed progress
func (s *Session) Progress() parse.Progress {
	s.lock.Lock()
	parser := s.parser
	s.lock.Unlock()
	if parser == nil {
		return parse.Progress{}
	}
	return parser.Progress()
}

// Log returns the retained stderr lines
func (s *Session) Log() []process.Line {
	s.lock.Lock()
	parser := s.parser
	s.lock.Unlock()
	if parser == nil {
		return nil
	}
	return parser.Log()
}

// Status returns process status
func (s *Session) Status() process.Status {
	s.lock.Lock()
	proc := s.proc
	s.lock.Unlock()
	if proc == nil {
		return process.Status{State: "idle"}
	}
	return proc.Status()
}

// Written returns the number of bytes delivered to a stream sink.
func (s *Session) Written() int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.bridge == nil {
		return 0
	}
	return s.bridge.Written()
}

func killed(reason int) process.Outcome {
	return process.Outcome{State: process.OutcomeKilled, ExitCode: -1, ReasonCode: reason}
}

func failed(err error) process.Outcome {
	return process.Outcome{State: process.OutcomeFailed, ExitCode: -1, Err: err}
}
