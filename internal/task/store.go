// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ZSC714725/transcodesession/internal/ffmpeg"
	"github.com/ZSC714725/transcodesession/internal/ffmpeg/parse"
	"github.com/ZSC714725/transcodesession/internal/logger"
	"github.com/ZSC714725/transcodesession/internal/process"

	"github.com/lithammer/shortuuid/v4"
)

// Kind of work a task performs
type Kind string

const (
	KindTranscode Kind = "transcode"
	KindSnapshots Kind = "snapshots"
)

// Task is a session running in the background
type Task struct {
	ID        string
	Reference string
	Kind      Kind
	Config    *Config
	Snapshots *SnapshotOptions
	Folder    string
	CreatedAt int64

	session *Session

	lock      sync.Mutex
	updatedAt int64
	files     []string
}

// Status returns process status
func (t *Task) Status() process.Status {
	return t.session.Status()
}

// Progress returns parsed FFmpeg progress
func (t *Task) Progress() parse.Progress {
	return t.session.Progress()
}

// Codec returns the detected input codecs, if known yet
func (t *Task) Codec() *parse.CodecDetected {
	return t.session.Codec()
}

// Log returns process log lines
func (t *Task) Log() []process.Line {
	return t.session.Log()
}

// Command returns the FFmpeg arguments of a transcode task
func (t *Task) Command() []string {
	return t.session.Command()
}

// Outcome returns the outcome once the task has finished
func (t *Task) Outcome() (process.Outcome, bool) {
	return t.session.Outcome()
}

// Done is closed when the task has finished
func (t *Task) Done() <-chan struct{} {
	return t.session.Done()
}

// Files returns the images produced by a snapshot task
func (t *Task) Files() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]string(nil), t.files...)
}

// UpdatedAt is the unix time of the last state change
func (t *Task) UpdatedAt() int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.updatedAt
}

func (t *Task) touch() {
	t.lock.Lock()
	t.updatedAt = time.Now().Unix()
	t.lock.Unlock()
}

// Store manages tasks in memory
type Store interface {
	Add(config *Config) (*Task, error)
	AddSnapshots(config *Config, options SnapshotOptions, dir string) (*Task, error)
	Get(id string) (*Task, error)
	List(ids []string, reference string) []*Task
	Cancel(id string) error
	Delete(id string) error
	Close()
}

type store struct {
	ffmpeg ffmpeg.FFmpeg
	logger logger.Logger
	tasks  map[string]*Task
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore creates a task store
func NewStore(ff ffmpeg.FFmpeg, log logger.Logger) Store {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &store{
		ffmpeg: ff,
		logger: log,
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// register validates the common parts of config and reserves its ID.
func (s *store) register(config *Config, kind Kind) (*Task, error) {
	if config.Source.IsStream() || config.Sink.IsStream() {
		return nil, ErrStreamNotAllowed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(config.ID) == 0 {
		config.ID = shortuuid.New()
	}
	if _, exists := s.tasks[config.ID]; exists {
		return nil, ErrTaskExists
	}

	log := s.logger.With("session", config.ID)
	if len(config.Reference) > 0 {
		log = log.With("reference", config.Reference)
	}

	now := time.Now().Unix()
	t := &Task{
		ID:        config.ID,
		Reference: config.Reference,
		Kind:      kind,
		Config:    config.Clone(),
		CreatedAt: now,
		updatedAt: now,
		session:   NewSession(s.ffmpeg, config, log),
	}
	t.session.OnCodecData(func(parse.CodecDetected) { t.touch() })
	s.tasks[config.ID] = t
	return t, nil
}

func (s *store) Add(config *Config) (*Task, error) {
	if err := config.Validate(s.ffmpeg); err != nil {
		return nil, err
	}
	t, err := s.register(config, KindTranscode)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.session.Run(s.ctx)
		t.touch()
	}()
	return t, nil
}

func (s *store) AddSnapshots(config *Config, options SnapshotOptions, dir string) (*Task, error) {
	if config.Source.Path == "" {
		return nil, fmt.Errorf("%w: no source", ErrInvalidConfig)
	}
	if len(dir) == 0 {
		return nil, fmt.Errorf("%w: no folder", ErrInvalidConfig)
	}
	if _, err := options.timemarks(); err != nil {
		return nil, err
	}
	if _, err := options.sizeArgs(); err != nil {
		return nil, err
	}
	t, err := s.register(config, KindSnapshots)
	if err != nil {
		return nil, err
	}
	t.Snapshots = &options
	t.Folder = dir

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, files := t.session.TakeSnapshots(s.ctx, options, dir)
		t.lock.Lock()
		t.files = files
		t.lock.Unlock()
		t.touch()
	}()
	return t, nil
}

func (s *store) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// List returns the tasks matching ids and reference, oldest first.
func (s *store) List(ids []string, reference string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var out []*Task
	for _, t := range s.tasks {
		if len(reference) > 0 && t.Reference != reference {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[t.ID]; !ok {
				continue
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel stops a running task. Finished tasks are left untouched.
func (s *store) Cancel(id string) error {
	t, err := s.Get(id)
	if err != nil {
		return err
	}
	t.session.Cancel()
	return nil
}

// Delete cancels the task, waits for its outcome and forgets it.
func (s *store) Delete(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	t.session.Cancel()
	<-t.session.Done()
	return nil
}

// Close cancels every running task and waits for them.
func (s *store) Close() {
	s.cancel()
	s.wg.Wait()
}
