// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package task

import (
	"context"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ZSC714725/transcodesession/internal/bridge"
	"github.com/ZSC714725/transcodesession/internal/process"
)

const defaultSnapshotFilename = "tn_%d.jpg"

// SnapshotOptions selects the still images to extract.
//
// Timemarks are seconds ("12.5"), clock values ("00:01:02.5") or
// percentages of the input duration ("50%"). Without timemarks Count evenly
// spaced percentages are used. Filename must contain %d, which is replaced
// by the 1-based image index. Size is "WxH", "Wx?" or "?xH".
type SnapshotOptions struct {
	Count     int
	Timemarks []string
	Size      string
	Filename  string
}

type timemark struct {
	seconds float64
	percent float64
	isPct   bool
}

var (
	reClock = regexp.MustCompile(`^(?:([0-9]+):)?([0-9]{1,2}):([0-9]{1,2}(?:\.[0-9]+)?)$`)
	reSize  = regexp.MustCompile(`^([0-9]+|\?)x([0-9]+|\?)$`)
)

func parseTimemark(s string) (timemark, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil || v < 0 || v > 100 {
			return timemark{}, fmt.Errorf("%w: %q", ErrInvalidTimemark, s)
		}
		return timemark{percent: v, isPct: true}, nil
	}
	if m := reClock.FindStringSubmatch(s); m != nil {
		h, _ := strconv.ParseFloat("0"+m[1], 64)
		mins, _ := strconv.ParseFloat(m[2], 64)
		sec, _ := strconv.ParseFloat(m[3], 64)
		return timemark{seconds: h*3600 + mins*60 + sec}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return timemark{}, fmt.Errorf("%w: %q", ErrInvalidTimemark, s)
	}
	return timemark{seconds: v}, nil
}

// timemarks resolves the requested marks. Count truncates explicit marks.
func (o SnapshotOptions) timemarks() ([]timemark, error) {
	if len(o.Timemarks) == 0 {
		count := o.Count
		if count <= 0 {
			count = 1
		}
		interval := 100 / float64(count+1)
		marks := make([]timemark, count)
		for i := range marks {
			marks[i] = timemark{percent: interval * float64(i+1), isPct: true}
		}
		return marks, nil
	}

	raw := o.Timemarks
	if o.Count > 0 && o.Count < len(raw) {
		raw = raw[:o.Count]
	}
	marks := make([]timemark, 0, len(raw))
	for _, r := range raw {
		m, err := parseTimemark(r)
		if err != nil {
			return nil, err
		}
		marks = append(marks, m)
	}
	return marks, nil
}

func (o SnapshotOptions) sizeArgs() ([]string, error) {
	if o.Size == "" {
		return nil, nil
	}
	m := reSize.FindStringSubmatch(o.Size)
	if m == nil || (m[1] == "?" && m[2] == "?") {
		return nil, fmt.Errorf("%w: invalid size %q", ErrInvalidConfig, o.Size)
	}
	switch {
	case m[1] == "?":
		return []string{"-vf", "scale=-2:" + m[2]}, nil
	case m[2] == "?":
		return []string{"-vf", "scale=" + m[1] + ":-2"}, nil
	default:
		return []string{"-s", o.Size}, nil
	}
}

func (o SnapshotOptions) filenames(dir string, n int) ([]string, error) {
	pattern := o.Filename
	if pattern == "" {
		pattern = defaultSnapshotFilename
	}
	if !strings.Contains(pattern, "%d") || strings.ContainsRune(pattern, filepath.Separator) {
		return nil, fmt.Errorf("%w: invalid filename pattern %q", ErrInvalidConfig, pattern)
	}
	files := make([]string, n)
	for i := range files {
		files[i] = filepath.Join(dir, strings.Replace(pattern, "%d", strconv.Itoa(i+1), 1))
	}
	return files, nil
}

func needsDuration(marks []timemark) bool {
	for _, m := range marks {
		if m.isPct {
			return true
		}
	}
	return false
}

// snapshotCommand builds the arguments extracting one frame per mark into files.
func (c *Config) snapshotCommand(src string, marks []timemark, size []string, files []string) []string {
	cmd := []string{"-y"}
	cmd = append(cmd, c.InputOptions...)
	cmd = append(cmd, "-i", src)
	for i, m := range marks {
		cmd = append(cmd, "-ss", strconv.FormatFloat(m.seconds, 'f', 3, 64), "-frames:v", "1")
		cmd = append(cmd, size...)
		cmd = append(cmd, c.Options...)
		cmd = append(cmd, "-f", "image2", files[i])
	}
	return cmd
}

// TakeSnapshots extracts still images from the source into dir and returns
// the outcome together with the files that were produced. A stream source is
// first stored in a temporary file inside dir. The sink of the config is not used.
// Config.Timeout bounds the whole operation, including the duration probe.
func (s *Session) TakeSnapshots(ctx context.Context, options SnapshotOptions, dir string) (process.Outcome, []string) {
	ctx, ok := s.begin(ctx)
	if !ok {
		return failed(ErrSessionStarted), nil
	}

	outcome, files := s.snapshots(ctx, options, dir)
	return s.finish(outcome), files
}

func (s *Session) snapshots(ctx context.Context, options SnapshotOptions, dir string) (process.Outcome, []string) {
	if err := s.config.Source.Validate(); err != nil {
		return failed(err), nil
	}
	if !s.config.Source.IsStream() && !s.ffmpeg.ValidateInput(s.config.Source.Path) {
		return failed(fmt.Errorf("%w: address %q not allowed", bridge.ErrInvalidSource, s.config.Source.Path)), nil
	}
	if s.config.Timeout < 0 {
		return failed(fmt.Errorf("%w: negative timeout", ErrInvalidConfig)), nil
	}

	marks, err := options.timemarks()
	if err != nil {
		return failed(err), nil
	}
	size, err := options.sizeArgs()
	if err != nil {
		return failed(err), nil
	}
	files, err := options.filenames(dir, len(marks))
	if err != nil {
		return failed(err), nil
	}
	for _, f := range files {
		if !s.ffmpeg.ValidateOutput(f) {
			return failed(fmt.Errorf("%w: address %q not allowed", bridge.ErrInvalidSink, f)), nil
		}
	}

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return failed(fmt.Errorf("%w: %v", bridge.ErrInvalidSink, err)), nil
	}

	// spooling, probing and extraction share one timeout
	bud := newBudget(s.config.Timeout)

	src := s.config.Source.Path
	if s.config.Source.IsStream() {
		spool, outcome, ok := s.spool(ctx, dir, bud)
		if !ok {
			return outcome, nil
		}
		defer s.fs.Remove(spool)
		src = spool
	}

	if needsDuration(marks) {
		duration, outcome, ok := s.probe(ctx, src, bud)
		if !ok {
			return outcome, nil
		}
		for i := range marks {
			if marks[i].isPct {
				marks[i].seconds = duration * marks[i].percent / 100
			}
		}
	}

	parser := s.ffmpeg.NewParser(s.dispatch)
	outcome := s.execute(ctx, s.config.snapshotCommand(src, marks, size, files), nil, parser, bud)
	if !outcome.Success() {
		return outcome, nil
	}

	produced := make([]string, 0, len(files))
	for _, f := range files {
		info, err := s.fs.Stat(f)
		if err != nil || info.Size() == 0 {
			continue
		}
		produced = append(produced, f)
	}
	if len(produced) != len(files) {
		outcome.State = process.OutcomeFailed
		outcome.Err = fmt.Errorf("%w: expected %d images, found %d", ErrSnapshotCount, len(files), len(produced))
	}
	return outcome, produced
}

// spool copies the stream source into a temporary file. The copy races the
// budget and ctx; a source that is still blocked when either ends is abandoned.
func (s *Session) spool(ctx context.Context, dir string, bud budget) (string, process.Outcome, bool) {
	if ctx.Err() != nil {
		return "", killed(process.ReasonCancelled), false
	}
	left, ok := bud.left()
	if !ok {
		return "", killed(process.ReasonTimeout), false
	}

	f, err := s.fs.CreateTemp(dir, ".source-*")
	if err != nil {
		return "", failed(fmt.Errorf("%w: %v", bridge.ErrInvalidSink, err)), false
	}

	copied := make(chan error, 1)
	go func() {
		_, err := io.Copy(f, s.config.Source.Reader)
		copied <- err
	}()

	var timeout <-chan time.Time
	if left > 0 {
		timer := time.NewTimer(left)
		defer timer.Stop()
		timeout = timer.C
	}

	var outcome process.Outcome
	select {
	case err := <-copied:
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err == nil {
			return f.Name(), process.Outcome{}, true
		}
		outcome = failed(fmt.Errorf("%w: %v", bridge.ErrSourceStream, err))
	case <-timeout:
		s.logger.Warn("source stream still blocked after %s, abandoning it", left.Round(time.Millisecond))
		outcome = killed(process.ReasonTimeout)
		f.Close()
	case <-ctx.Done():
		s.logger.Warn("source stream abandoned on cancel")
		outcome = killed(process.ReasonCancelled)
		f.Close()
	}
	s.fs.Remove(f.Name())
	return "", outcome, false
}

// probe runs FFmpeg without outputs only to learn the input duration.
func (s *Session) probe(ctx context.Context, src string, bud budget) (float64, process.Outcome, bool) {
	args := []string{"-y"}
	args = append(args, s.config.InputOptions...)
	args = append(args, "-i", src)

	parser := s.ffmpeg.NewParser(nil)
	outcome := s.execute(ctx, args, nil, parser, bud)
	if outcome.State == process.OutcomeKilled {
		return 0, outcome, false
	}
	duration := parser.Duration()
	if duration <= 0 {
		outcome.State = process.OutcomeFailed
		outcome.Err = fmt.Errorf("%w: input duration unknown", ErrInvalidTimemark)
		return 0, outcome, false
	}
	s.logger.Debug("probed duration %.2fs", duration)
	return duration, outcome, true
}
