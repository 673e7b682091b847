// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具
//
// Package process wraps exec.Cmd for controlling an FFmpeg process.

package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ZSC714725/transcodesession/internal/logger"
)

// Process represents a process
type Process interface {
	Status() Status
	Start(ctx context.Context) error
	Wait() Outcome
	Done() <-chan struct{}
	Cancel()
	IsRunning() bool
}

// Command is the part of exec.Cmd a Plumbing needs.
type Command interface {
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.ReadCloser, error)
}

// Config for a process
type Config struct {
	Binary string
	Args   []string
	// Env is passed as is; nil inherits the current environment.
	Env []string
	Dir string
	// Timeout of zero disables the wall clock limit.
	Timeout time.Duration
	// KillGrace is the time between SIGINT and SIGKILL. Defaults to 5s.
	KillGrace time.Duration
	// Priority is a nice value applied after start, if set.
	Priority      *int
	Parser        Parser
	Plumbing      Plumbing
	StdoutTail    int
	Sampler       Sampler
	OnStart       func()
	OnExit        func(Outcome)
	OnStateChange func(from, to string)
	Logger        logger.Logger
}

// Status of a process
type Status struct {
	State    string
	States   States
	PID      int
	Nice     int32
	Duration time.Duration
	Time     time.Time
	CPU      struct {
		Current float64
	}
	Memory struct {
		Current uint64
	}
}

// States cumulative counts
type States struct {
	Running  uint64
	Finished uint64
	Failed   uint64
	Killed   uint64
}

type stateType string

const (
	stateIdle     stateType = "idle"
	stateRunning  stateType = "running"
	stateFinished stateType = "finished"
	stateFailed   stateType = "failed"
	stateKilled   stateType = "killed"
)

func (s stateType) String() string { return string(s) }

func (s stateType) IsRunning() bool {
	return s == stateRunning
}

type process struct {
	binary   string
	args     []string
	env      []string
	dir      string
	cmd      *exec.Cmd
	pid      int
	stderr   io.ReadCloser
	stdout   *tailBuffer
	plumbing Plumbing
	priority *int

	state struct {
		state  stateType
		time   time.Time
		states States
		lock   sync.Mutex
	}
	timeout   time.Duration
	killGrace time.Duration

	parser  Parser
	sampler Sampler
	logger  logger.Logger

	exited  chan struct{}
	waitErr error
	cancel  chan struct{}
	abort   chan error
	done    chan struct{}
	outcome Outcome

	cancelOnce    sync.Once
	killTimer     *time.Timer
	killTimerLock sync.Mutex
	terminated    chan struct{}
	terminateOnce sync.Once

	callbacks struct {
		onStart       func()
		onExit        func(Outcome)
		onStateChange func(from, to string)
	}
}

// New creates a new process
func New(config Config) (Process, error) {
	p := &process{
		binary:    config.Binary,
		args:      config.Args,
		env:       config.Env,
		dir:       config.Dir,
		plumbing:  config.Plumbing,
		priority:  config.Priority,
		timeout:   config.Timeout,
		killGrace: config.KillGrace,
		parser:    config.Parser,
		sampler:   config.Sampler,
		logger:    config.Logger,
		exited:    make(chan struct{}),
		cancel:    make(chan struct{}),
		abort:     make(chan error, 1),
		done:      make(chan struct{}),

		terminated: make(chan struct{}),
	}

	if len(p.binary) == 0 {
		return nil, fmt.Errorf("no valid binary given")
	}
	if p.parser == nil {
		p.parser = &nullParser{}
	}
	if p.sampler == nil {
		p.sampler = NewSysSampler()
	}
	if p.logger == nil {
		p.logger = logger.Nop()
	}
	if p.killGrace <= 0 {
		p.killGrace = 5 * time.Second
	}
	if p.plumbing == nil {
		p.stdout = newTailBuffer(config.StdoutTail)
	}

	p.callbacks.onStart = config.OnStart
	p.callbacks.onExit = config.OnExit
	p.callbacks.onStateChange = config.OnStateChange
	p.state.state = stateIdle
	p.state.time = time.Now()

	return p, nil
}

func (p *process) setState(state stateType) error {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()

	prev := p.state.state
	switch {
	case prev == stateIdle && state == stateRunning:
		p.state.states.Running++
	case prev == stateIdle && state == stateFailed:
		p.state.states.Failed++
	case prev == stateRunning && state == stateFinished:
		p.state.states.Finished++
	case prev == stateRunning && state == stateFailed:
		p.state.states.Failed++
	case prev == stateRunning && state == stateKilled:
		p.state.states.Killed++
	default:
		return fmt.Errorf("can't change from %s to %s", prev, state)
	}

	p.state.state = state
	p.state.time = time.Now()
	if p.callbacks.onStateChange != nil {
		p.callbacks.onStateChange(prev.String(), state.String())
	}
	return nil
}

func (p *process) getState() stateType {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()
	return p.state.state
}

func (p *process) Status() Status {
	cpu, memory := p.sampler.Current()
	nice, _ := p.sampler.Nice()

	p.state.lock.Lock()
	stateTime := p.state.time
	stateString := p.state.state.String()
	states := p.state.states
	p.state.lock.Unlock()

	s := Status{
		State:    stateString,
		States:   states,
		PID:      p.pid,
		Nice:     nice,
		Duration: time.Since(stateTime),
		Time:     stateTime,
	}
	s.CPU.Current = cpu
	s.Memory.Current = memory
	return s
}

func (p *process) IsRunning() bool {
	return p.getState().IsRunning()
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

// Start spawns the binary. A context cancellation while running has the same
// effect as Cancel.
func (p *process) Start(ctx context.Context) error {
	if p.getState() != stateIdle {
		return ErrAlreadyStarted
	}

	p.cmd = exec.Command(p.binary, p.args...)
	p.cmd.Env = p.env
	p.cmd.Dir = p.dir
	configureCommand(p.cmd)

	var err error
	p.stderr, err = p.cmd.StderrPipe()
	if err != nil {
		return p.fail(err)
	}

	if p.plumbing != nil {
		if err := p.plumbing.Attach(p.cmd); err != nil {
			return p.fail(err)
		}
	} else {
		p.cmd.Stdout = p.stdout
	}

	if err := p.cmd.Start(); err != nil {
		return p.fail(err)
	}

	p.pid = p.cmd.Process.Pid
	p.setState(stateRunning)
	p.logger.Debug("started %s (pid %d) with %v", p.binary, p.pid, p.args)

	if err := p.sampler.Start(p.pid); err != nil {
		p.logger.Debug("resource sampling unavailable for pid %d: %v", p.pid, err)
	}
	if p.priority != nil {
		if err := setPriority(p.pid, *p.priority); err != nil {
			p.logger.Warn("renice pid %d to %d failed: %v", p.pid, *p.priority, err)
		}
	}

	if p.callbacks.onStart != nil {
		go p.callbacks.onStart()
	}

	if p.plumbing != nil {
		p.plumbing.Start(p.abortWith)
	}

	go p.reader()
	go p.supervise(ctx)

	return nil
}

// fail resolves a process that never ran.
func (p *process) fail(err error) error {
	err = fmt.Errorf("%w: %s: %v", ErrSpawn, p.binary, err)
	if p.plumbing != nil {
		p.plumbing.Close()
	}
	if p.stderr != nil {
		p.stderr.Close()
	}
	p.setState(stateFailed)
	p.outcome = Outcome{State: OutcomeFailed, ExitCode: -1, Err: err}
	close(p.done)
	return err
}

// Wait blocks until the outcome is resolved. Every call returns the same value.
func (p *process) Wait() Outcome {
	<-p.done
	return p.outcome
}

// Cancel requests termination. It has no effect unless the process is running.
func (p *process) Cancel() {
	if !p.IsRunning() {
		return
	}
	p.cancelOnce.Do(func() { close(p.cancel) })
}

func (p *process) abortWith(err error) {
	select {
	case p.abort <- err:
	default:
	}
}

func (p *process) supervise(ctx context.Context) {
	started := time.Now()

	var timeout <-chan time.Time
	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var outcome Outcome
	select {
	case <-p.exited:
		outcome = p.exitOutcome()
		select {
		case err := <-p.abort:
			outcome = Outcome{State: OutcomeFailed, ExitCode: outcome.ExitCode, Err: err}
		default:
		}
	case <-timeout:
		p.logger.Info("pid %d timed out after %s", p.pid, p.timeout)
		outcome = p.killed(ReasonTimeout)
	case <-p.cancel:
		outcome = p.killed(ReasonCancelled)
	case <-ctx.Done():
		outcome = p.killed(ReasonCancelled)
	case err := <-p.abort:
		p.logger.Warn("aborting pid %d: %v", p.pid, err)
		p.terminate()
		<-p.exited
		outcome = Outcome{State: OutcomeFailed, ExitCode: p.exitCode(), Err: err}
	}

	p.sampler.Stop()
	p.killTimerLock.Lock()
	if p.killTimer != nil {
		p.killTimer.Stop()
		p.killTimer = nil
	}
	p.killTimerLock.Unlock()
	if p.plumbing != nil {
		p.plumbing.Close()
	}

	outcome.Runtime = time.Since(started)
	if p.stdout != nil {
		outcome.StdoutTail = p.stdout.String()
	}
	for _, l := range p.parser.Log() {
		outcome.StderrTail = append(outcome.StderrTail, l.Data)
	}

	switch outcome.State {
	case OutcomeSuccess:
		p.setState(stateFinished)
	case OutcomeKilled:
		p.setState(stateKilled)
	default:
		p.setState(stateFailed)
	}

	p.outcome = outcome
	close(p.done)

	if p.callbacks.onExit != nil {
		p.callbacks.onExit(outcome)
	}
}

func (p *process) killed(reason int) Outcome {
	p.terminate()
	<-p.exited
	return Outcome{State: OutcomeKilled, ExitCode: p.exitCode(), ReasonCode: reason}
}

// terminate sends SIGINT to the process group and SIGKILL after the grace window.
func (p *process) terminate() {
	p.terminateOnce.Do(func() { close(p.terminated) })
	if err := interrupt(p.cmd); err != nil {
		p.logger.Debug("interrupt pid %d: %v", p.pid, err)
		kill(p.cmd)
		return
	}
	p.killTimerLock.Lock()
	p.killTimer = time.AfterFunc(p.killGrace, func() {
		kill(p.cmd)
	})
	p.killTimerLock.Unlock()
}

// reader drains stderr into the parser, then reaps the child.
func (p *process) reader() {
	buf := make([]byte, 4096)
	for {
		n, err := p.stderr.Read(buf)
		if n > 0 {
			p.parser.Feed(buf[:n])
		}
		if err != nil {
			break
		}
	}
	p.parser.Flush()

	if p.plumbing != nil {
		p.plumbing.Wait(p.terminated)
	}
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

func (p *process) exitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

func (p *process) exitOutcome() Outcome {
	code := p.exitCode()
	if p.waitErr == nil {
		return Outcome{State: OutcomeSuccess, ExitCode: code}
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) && !exitErr.Exited() {
		return Outcome{State: OutcomeFailed, ExitCode: code, Err: fmt.Errorf("%w: %v", ErrSignaled, p.waitErr)}
	}
	return Outcome{State: OutcomeFailed, ExitCode: code, Err: p.waitErr}
}

type nullParser struct{}

func (p *nullParser) Feed(chunk []byte) {}
func (p *nullParser) Flush()            {}
func (p *nullParser) Log() []Line       { return nil }
