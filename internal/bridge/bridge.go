// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具
//
// Package bridge connects caller supplied streams to the standard input and
// output of an FFmpeg process.

package bridge

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ZSC714725/transcodesession/internal/logger"
	"github.com/ZSC714725/transcodesession/internal/process"
)

var (
	ErrInvalidSource = errors.New("invalid source")
	ErrInvalidSink   = errors.New("invalid sink")
	ErrSourceStream  = errors.New("source stream error")
	ErrSinkStream    = errors.New("sink stream error")
)

// Source is either a path or a stream, never both.
type Source struct {
	Path   string
	Reader io.Reader
}

// Sink is either a path or a stream, never both. Format is the muxer name
// and is required for streams, which carry no file extension.
type Sink struct {
	Path   string
	Writer io.Writer
	Format string
}

// IsStream reports whether the source is read through stdin.
func (s Source) IsStream() bool { return s.Reader != nil }

// Validate checks that exactly one of Path and Reader is set.
func (s Source) Validate() error {
	switch {
	case s.Path != "" && s.Reader != nil:
		return fmt.Errorf("%w: both path and stream given", ErrInvalidSource)
	case s.Path == "" && s.Reader == nil:
		return fmt.Errorf("%w: neither path nor stream given", ErrInvalidSource)
	}
	return nil
}

// Args returns the input arguments.
func (s Source) Args() []string {
	if s.IsStream() {
		return []string{"-i", "pipe:0"}
	}
	return []string{"-i", s.Path}
}

// IsStream reports whether the sink is written from stdout.
func (s Sink) IsStream() bool { return s.Writer != nil }

// Validate checks that exactly one of Path and Writer is set.
func (s Sink) Validate() error {
	switch {
	case s.Path != "" && s.Writer != nil:
		return fmt.Errorf("%w: both path and stream given", ErrInvalidSink)
	case s.Path == "" && s.Writer == nil:
		return fmt.Errorf("%w: neither path nor stream given", ErrInvalidSink)
	case s.Writer != nil && s.Format == "":
		return fmt.Errorf("%w: stream output needs a format", ErrInvalidSink)
	}
	return nil
}

// Args returns the output arguments, always last on the command line.
func (s Sink) Args() []string {
	var args []string
	if s.Format != "" {
		args = append(args, "-f", s.Format)
	}
	if s.IsStream() {
		return append(args, "pipe:1")
	}
	return append(args, s.Path)
}

// Bridge implements process.Plumbing for stream sources and sinks.
type Bridge struct {
	source Source
	sink   Sink
	grace  time.Duration
	logger logger.Logger

	stdin      io.WriteCloser
	stdout     io.ReadCloser
	stdinDone  chan struct{}
	stdoutDone chan struct{}

	read    atomic.Int64
	written atomic.Int64
}

// New validates both directions. The returned bridge is nil when neither side
// is a stream.
func New(source Source, sink Sink, grace time.Duration, log logger.Logger) (*Bridge, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}
	if err := sink.Validate(); err != nil {
		return nil, err
	}
	if !source.IsStream() && !sink.IsStream() {
		return nil, nil
	}
	if grace <= 0 {
		grace = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Bridge{
		source:     source,
		sink:       sink,
		grace:      grace,
		logger:     log,
		stdinDone:  make(chan struct{}),
		stdoutDone: make(chan struct{}),
	}, nil
}

func (b *Bridge) Attach(cmd process.Command) error {
	var err error
	if b.source.IsStream() {
		if b.stdin, err = cmd.StdinPipe(); err != nil {
			return fmt.Errorf("stdin pipe: %w", err)
		}
	}
	if b.sink.IsStream() {
		if b.stdout, err = cmd.StdoutPipe(); err != nil {
			return fmt.Errorf("stdout pipe: %w", err)
		}
	}
	return nil
}

func (b *Bridge) Start(abort func(error)) {
	if b.stdin != nil {
		go b.copyIn(abort)
	} else {
		close(b.stdinDone)
	}
	if b.stdout != nil {
		go b.copyOut(abort)
	} else {
		close(b.stdoutDone)
	}
}

func (b *Bridge) copyIn(abort func(error)) {
	defer close(b.stdinDone)

	src := &trackedReader{r: b.source.Reader, n: &b.read}
	_, err := io.Copy(b.stdin, src)
	if src.err != nil {
		abort(fmt.Errorf("%w: %v", ErrSourceStream, src.err))
	} else if err != nil {
		b.logger.Debug("stdin closed by child after %d bytes: %v", b.read.Load(), err)
	}
	b.stdin.Close()
}

func (b *Bridge) copyOut(abort func(error)) {
	defer close(b.stdoutDone)

	dst := &trackedWriter{w: b.sink.Writer, n: &b.written}
	if _, err := io.Copy(dst, b.stdout); err != nil && dst.err != nil {
		abort(fmt.Errorf("%w: %v", ErrSinkStream, dst.err))
	}
}

// Wait blocks until the stdout copier stopped reading. Once terminated is
// closed the copier gets the grace window to drain; a sink writer that blocks
// longer is abandoned.
func (b *Bridge) Wait(terminated <-chan struct{}) {
	select {
	case <-b.stdoutDone:
		return
	case <-terminated:
	}
	select {
	case <-b.stdoutDone:
	case <-time.After(b.grace):
		b.logger.Warn("sink stream still blocked after %s, abandoning it (%d bytes written)", b.grace, b.written.Load())
	}
}

// Close waits for the stdin copier for at most the grace window. A caller
// reader that blocks longer is abandoned.
func (b *Bridge) Close() {
	if b.stdin == nil {
		return
	}
	b.stdin.Close()
	select {
	case <-b.stdinDone:
	case <-time.After(b.grace):
		b.logger.Warn("source stream still blocked after %s, abandoning it", b.grace)
	}
}

// Read returns the number of bytes consumed from the source stream.
func (b *Bridge) Read() int64 { return b.read.Load() }

// Written returns the number of bytes delivered to the sink stream.
func (b *Bridge) Written() int64 { return b.written.Load() }

type trackedReader struct {
	r   io.Reader
	n   *atomic.Int64
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.n.Add(int64(n))
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

type trackedWriter struct {
	w   io.Writer
	n   *atomic.Int64
	err error
}

func (t *trackedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.n.Add(int64(n))
	if err != nil {
		t.err = err
	}
	return n, err
}
