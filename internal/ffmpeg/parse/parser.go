// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package parse

import (
	"bytes"
	"container/ring"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZSC714725/transcodesession/internal/process"
)

// maxLine bounds a line without terminator; longer fragments are classified as they are.
const maxLine = 64 * 1024

// Progress holds FFmpeg progress info parsed from stderr
type Progress struct {
	Frame     uint64   `json:"frame"`
	FPS       float64  `json:"fps"`
	Quantizer float64  `json:"q"`
	Size      uint64   `json:"size_bytes"`
	Time      float64  `json:"time_seconds"`
	Bitrate   float64  `json:"bitrate_kbit"`
	Speed     float64  `json:"speed"`
	Drop      uint64   `json:"drop"`
	Dup       uint64   `json:"dup"`
	Percent   *float64 `json:"percent,omitempty"`
}

// Parser implements process.Parser and turns FFmpeg stderr into events
type Parser interface {
	process.Parser
	Progress() Progress
	Duration() float64
	Reset()
}

// Config for the parser
type Config struct {
	LogLines int
	// OnEvent receives events in the order their lines were fed. It is called
	// from the goroutine calling Feed or Flush.
	OnEvent func(Event)
}

type parser struct {
	re struct {
		input     *regexp.Regexp
		stream    *regexp.Regexp
		duration  *regexp.Regexp
		frame     *regexp.Regexp
		fps       *regexp.Regexp
		quantizer *regexp.Regexp
		size      *regexp.Regexp
		time      *regexp.Regexp
		bitrate   *regexp.Regexp
		speed     *regexp.Regexp
		drop      *regexp.Regexp
		dup       *regexp.Regexp
		fatal     *regexp.Regexp
	}

	onEvent func(Event)

	buf   []byte
	ended bool

	inInput  bool
	inputs   int
	codec    CodecDetected
	emitted  bool
	duration float64
	lastTime float64
	progress Progress

	log      *ring.Ring
	logLines int

	lock sync.RWMutex
}

// New creates a Parser
func New(config Config) Parser {
	p := &parser{
		logLines: config.LogLines,
		onEvent:  config.OnEvent,
	}
	if p.logLines <= 0 {
		p.logLines = 100
	}
	p.re.input = regexp.MustCompile(`^Input #([0-9]+), (.+?), from '.*'`)
	p.re.stream = regexp.MustCompile(`^Stream #[0-9]+[:.][0-9]+.*?: (Video|Audio): ([^\s,]+)[\s,]*(.*)$`)
	p.re.duration = regexp.MustCompile(`^Duration: ([0-9]+):([0-9]{2}):([0-9]{2}(?:\.[0-9]+)?)`)
	p.re.frame = regexp.MustCompile(`frame=\s*([0-9]+)`)
	p.re.fps = regexp.MustCompile(`fps=\s*([0-9\.]+)`)
	p.re.quantizer = regexp.MustCompile(`q=\s*(-?[0-9\.]+)`)
	p.re.size = regexp.MustCompile(`size=\s*([0-9]+)(kB|KiB)`)
	p.re.time = regexp.MustCompile(`time=\s*([0-9]+):([0-9]{2}):([0-9]{2}(?:\.[0-9]+)?)`)
	p.re.bitrate = regexp.MustCompile(`bitrate=\s*([0-9\.]+)kbits/s`)
	p.re.speed = regexp.MustCompile(`speed=\s*([0-9\.]+)x`)
	p.re.drop = regexp.MustCompile(`drop=\s*([0-9]+)`)
	p.re.dup = regexp.MustCompile(`dup=\s*([0-9]+)`)
	p.re.fatal = regexp.MustCompile(`(?i)(^error\b|invalid data found when processing input|no such file or directory|^conversion failed!|unknown encoder|unrecognized option|could not find codec parameters|permission denied|at least one output file must be specified)`)

	p.log = ring.New(p.logLines)
	return p
}

// Feed appends chunk to the pending buffer and classifies every completed line.
// Both \n and \r terminate a line.
func (p *parser) Feed(chunk []byte) {
	p.lock.Lock()
	if p.ended {
		p.lock.Unlock()
		return
	}
	p.buf = append(p.buf, chunk...)

	var events []Event
	consumed := 0
	for {
		i := bytes.IndexAny(p.buf[consumed:], "\r\n")
		if i < 0 {
			break
		}
		events = p.classify(string(p.buf[consumed:consumed+i]), events)
		consumed += i + 1
	}
	if consumed > 0 {
		p.buf = append(p.buf[:0], p.buf[consumed:]...)
	}
	if len(p.buf) > maxLine {
		events = p.classify(string(p.buf), events)
		p.buf = p.buf[:0]
	}
	p.lock.Unlock()

	p.dispatch(events)
}

// Flush classifies the trailing fragment, if any. Feed is a no-op afterwards
// until Reset.
func (p *parser) Flush() {
	p.lock.Lock()
	if p.ended {
		p.lock.Unlock()
		return
	}
	var events []Event
	if len(p.buf) > 0 {
		events = p.classify(string(p.buf), events)
		p.buf = p.buf[:0]
	}
	p.ended = true
	p.lock.Unlock()

	p.dispatch(events)
}

func (p *parser) dispatch(events []Event) {
	if p.onEvent == nil {
		return
	}
	for _, e := range events {
		p.onEvent(e)
	}
}

// classify must be called with the lock held.
func (p *parser) classify(raw string, events []Event) []Event {
	line := strings.TrimSpace(raw)
	if line == "" {
		return events
	}
	p.log.Value = process.Line{Timestamp: time.Now(), Data: line}
	p.log = p.log.Next()

	if e, ok := p.parseCodec(line); ok {
		if e != nil {
			events = append(events, e)
		}
		return events
	}
	if e, ok := p.parseDuration(line); ok {
		if e != nil {
			events = append(events, e)
		}
		return events
	}
	if e, ok := p.parseProgress(line); ok {
		if e != nil {
			events = append(events, e)
		}
		return events
	}
	if p.re.fatal.MatchString(line) {
		return append(events, ErrorDetected{Message: line})
	}
	return events
}

// parseCodec tracks the input analysis block. ok reports whether the line
// belonged to it.
func (p *parser) parseCodec(line string) (Event, bool) {
	if m := p.re.input.FindStringSubmatch(line); m != nil {
		p.inInput = true
		if p.inputs == 0 {
			p.codec.Format = m[2]
		}
		p.inputs++
		return nil, true
	}
	if strings.HasPrefix(line, "Output #") || strings.HasPrefix(line, "Stream mapping:") {
		p.inInput = false
		return nil, true
	}
	if !p.inInput {
		return nil, false
	}
	m := p.re.stream.FindStringSubmatch(line)
	if m != nil && p.inputs > 1 {
		// codecs describe the first input only
		return nil, true
	}
	if m == nil {
		return nil, false
	}
	switch m[1] {
	case "Video":
		if p.codec.Video == "" {
			p.codec.Video, p.codec.VideoDetails = m[2], m[3]
		}
	case "Audio":
		if p.codec.Audio == "" {
			p.codec.Audio, p.codec.AudioDetails = m[2], m[3]
		}
	}
	if p.emitted || p.codec.Audio == "" || p.codec.Video == "" {
		return nil, true
	}
	p.emitted = true
	p.codec.Duration = p.duration
	return p.codec, true
}

func (p *parser) parseDuration(line string) (Event, bool) {
	m := p.re.duration.FindStringSubmatch(line)
	if m == nil {
		return nil, strings.HasPrefix(line, "Duration:")
	}
	if p.duration > 0 {
		return nil, true
	}
	d := clock(m[1], m[2], m[3])
	if d <= 0 {
		return nil, true
	}
	p.duration = d
	return DurationKnown{Duration: d}, true
}

func (p *parser) parseProgress(line string) (Event, bool) {
	if !strings.Contains(line, "frame=") && !strings.Contains(line, "size=") {
		return nil, false
	}
	m := p.re.time.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	p.inInput = false

	current := clock(m[1], m[2], m[3])
	if current < p.lastTime {
		return nil, true
	}
	p.lastTime = current

	prog := Progress{Time: current}
	if m := p.re.frame.FindStringSubmatch(line); m != nil {
		prog.Frame, _ = strconv.ParseUint(m[1], 10, 64)
	}
	if m := p.re.fps.FindStringSubmatch(line); m != nil {
		prog.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := p.re.quantizer.FindStringSubmatch(line); m != nil {
		prog.Quantizer, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := p.re.size.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			prog.Size = x * 1024
		}
	}
	if m := p.re.bitrate.FindStringSubmatch(line); m != nil {
		prog.Bitrate, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := p.re.speed.FindStringSubmatch(line); m != nil {
		prog.Speed, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := p.re.drop.FindStringSubmatch(line); m != nil {
		prog.Drop, _ = strconv.ParseUint(m[1], 10, 64)
	}
	if m := p.re.dup.FindStringSubmatch(line); m != nil {
		prog.Dup, _ = strconv.ParseUint(m[1], 10, 64)
	}
	if p.duration > 0 {
		pct := math.Min(100, current/p.duration*100)
		prog.Percent = &pct
	}

	p.progress = prog
	return ProgressUpdate{Progress: prog}, true
}

// clock converts HH, MM and SS(.fraction) fields to seconds.
func clock(h, m, s string) float64 {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.ParseFloat(s, 64)
	return float64(hh*3600+mm*60) + ss
}

func (p *parser) Reset() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.buf = nil
	p.ended = false
	p.inInput = false
	p.inputs = 0
	p.codec = CodecDetected{}
	p.emitted = false
	p.duration = 0
	p.lastTime = 0
	p.progress = Progress{}
	p.log = ring.New(p.logLines)
}

func (p *parser) Log() []process.Line {
	var out []process.Line
	p.lock.RLock()
	p.log.Do(func(v interface{}) {
		if v != nil {
			out = append(out, v.(process.Line))
		}
	})
	p.lock.RUnlock()
	return out
}

func (p *parser) Progress() Progress {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.progress
}

func (p *parser) Duration() float64 {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.duration
}
