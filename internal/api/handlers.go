// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/transcodesession/internal/bridge"
	"github.com/ZSC714725/transcodesession/internal/task"
)

// Defaults applied to requests that leave the field empty
type Defaults struct {
	Timeout  time.Duration
	Priority *int
}

// Handler holds dependencies
type Handler struct {
	store    task.Store
	defaults Defaults
}

// NewHandler creates API handler
func NewHandler(store task.Store, defaults Defaults) *Handler {
	return &Handler{store: store, defaults: defaults}
}

// Routes registers the session endpoints on g
func (h *Handler) Routes(g *gin.RouterGroup) {
	g.GET("/session", h.ListSessions)
	g.POST("/session", h.AddSession)
	g.GET("/session/:id", h.GetSession)
	g.DELETE("/session/:id", h.DeleteSession)
	g.GET("/session/:id/state", h.GetState)
	g.GET("/session/:id/report", h.GetReport)
	g.PUT("/session/:id/command", h.Command)
	g.POST("/snapshots", h.AddSnapshots)
}

func errResp(c *gin.Context, code int, msg, detail string) {
	c.JSON(code, ErrorResponse{Code: code, Message: msg, Detail: detail})
}

func addErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrTaskExists):
		errResp(c, http.StatusBadRequest, "Session exists", err.Error())
	case errors.Is(err, bridge.ErrInvalidSource), errors.Is(err, bridge.ErrInvalidSink):
		errResp(c, http.StatusBadRequest, "Invalid address", err.Error())
	case errors.Is(err, task.ErrInvalidTimemark):
		errResp(c, http.StatusBadRequest, "Invalid timemark", err.Error())
	default:
		errResp(c, http.StatusBadRequest, "Invalid config", err.Error())
	}
}

func (h *Handler) timeout(seconds float64) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return h.defaults.Timeout
}

func (h *Handler) priority(p *int) *int {
	if p != nil {
		return p
	}
	return h.defaults.Priority
}

// AddSession POST /api/v3/session
func (h *Handler) AddSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	cfg := &task.Config{
		ID:           req.ID,
		Reference:    req.Reference,
		Source:       bridge.Source{Path: req.Input},
		Sink:         bridge.Sink{Path: req.Output, Format: req.Format},
		InputOptions: req.InputOptions,
		Options:      req.Options,
		Timeout:      h.timeout(req.TimeoutSeconds),
		Priority:     h.priority(req.Priority),
	}

	t, err := h.store.Add(cfg)
	if err != nil {
		addErr(c, err)
		return
	}

	c.JSON(http.StatusOK, taskToSession(t, "config"))
}

// AddSnapshots POST /api/v3/snapshots
func (h *Handler) AddSnapshots(c *gin.Context) {
	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	cfg := &task.Config{
		ID:           req.ID,
		Reference:    req.Reference,
		Source:       bridge.Source{Path: req.Input},
		InputOptions: req.InputOptions,
		Options:      req.Options,
		Timeout:      h.timeout(req.TimeoutSeconds),
		Priority:     h.priority(req.Priority),
	}
	options := task.SnapshotOptions{
		Count:     req.Count,
		Timemarks: req.Timemarks,
		Size:      req.Size,
		Filename:  req.Filename,
	}

	t, err := h.store.AddSnapshots(cfg, options, req.Folder)
	if err != nil {
		addErr(c, err)
		return
	}

	c.JSON(http.StatusOK, taskToSession(t, "config"))
}

// ListSessions GET /api/v3/session
func (h *Handler) ListSessions(c *gin.Context) {
	filter := c.DefaultQuery("filter", "")
	reference := c.DefaultQuery("reference", "")
	idStr := c.DefaultQuery("id", "")

	var ids []string
	if idStr != "" {
		ids = strings.FieldsFunc(idStr, func(r rune) bool { return r == ',' })
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}
	}

	tasks := h.store.List(ids, reference)
	sessions := make([]Session, 0, len(tasks))
	for _, t := range tasks {
		sessions = append(sessions, taskToSession(t, filter))
	}

	c.JSON(http.StatusOK, sessions)
}

// GetSession GET /api/v3/session/:id
func (h *Handler) GetSession(c *gin.Context) {
	t, err := h.store.Get(c.Param("id"))
	if err != nil {
		errResp(c, http.StatusNotFound, "Unknown session ID", err.Error())
		return
	}

	c.JSON(http.StatusOK, taskToSession(t, c.DefaultQuery("filter", "")))
}

// DeleteSession DELETE /api/v3/session/:id
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.store.Delete(c.Param("id")); err != nil {
		errResp(c, http.StatusNotFound, "Unknown session ID", err.Error())
		return
	}

	c.JSON(http.StatusOK, "OK")
}

// GetState GET /api/v3/session/:id/state
func (h *Handler) GetState(c *gin.Context) {
	t, err := h.store.Get(c.Param("id"))
	if err != nil {
		errResp(c, http.StatusNotFound, "Unknown session ID", err.Error())
		return
	}

	c.JSON(http.StatusOK, taskToState(t))
}

// GetReport GET /api/v3/session/:id/report
func (h *Handler) GetReport(c *gin.Context) {
	t, err := h.store.Get(c.Param("id"))
	if err != nil {
		errResp(c, http.StatusNotFound, "Unknown session ID", err.Error())
		return
	}

	c.JSON(http.StatusOK, taskToReport(t))
}

// Command PUT /api/v3/session/:id/command
func (h *Handler) Command(c *gin.Context) {
	id := c.Param("id")

	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	if req.Command != "cancel" {
		errResp(c, http.StatusBadRequest, "Unknown command", "Known: cancel")
		return
	}

	if err := h.store.Cancel(id); err != nil {
		errResp(c, http.StatusNotFound, "Unknown session ID", err.Error())
		return
	}

	c.JSON(http.StatusOK, "OK")
}

func taskToConfig(t *task.Task) *SessionConfig {
	cfg := &SessionConfig{
		Input:          t.Config.Source.Path,
		InputOptions:   t.Config.InputOptions,
		Output:         t.Config.Sink.Path,
		Format:         t.Config.Sink.Format,
		Options:        t.Config.Options,
		TimeoutSeconds: t.Config.Timeout.Seconds(),
		Priority:       t.Config.Priority,
	}
	if t.Snapshots != nil {
		cfg.Folder = t.Folder
		cfg.Count = t.Snapshots.Count
		cfg.Timemarks = t.Snapshots.Timemarks
		cfg.Size = t.Snapshots.Size
	}
	return cfg
}

func taskToState(t *task.Task) *SessionState {
	status := t.Status()
	state := &SessionState{
		State:   status.State,
		Runtime: int64(status.Duration.Seconds()),
		PID:     status.PID,
		Nice:    status.Nice,
		Memory:  status.Memory.Current,
		CPU:     status.CPU.Current,
		Files:   t.Files(),
	}
	if t.Kind == task.KindTranscode {
		state.Command = t.Command()
	}

	prog := t.Progress()
	state.Progress = &Progress{
		Frame:     prog.Frame,
		FPS:       prog.FPS,
		Size:      prog.Size,
		Time:      prog.Time,
		Bitrate:   prog.Bitrate,
		Speed:     prog.Speed,
		Drop:      prog.Drop,
		Dup:       prog.Dup,
		Quantizer: prog.Quantizer,
		Percent:   prog.Percent,
	}

	if codec := t.Codec(); codec != nil {
		state.Codec = &Codec{
			Format:       codec.Format,
			Video:        codec.Video,
			VideoDetails: codec.VideoDetails,
			Audio:        codec.Audio,
			AudioDetails: codec.AudioDetails,
			Duration:     codec.Duration,
		}
	}

	if outcome, ok := t.Outcome(); ok {
		state.Outcome = &Outcome{
			State:      string(outcome.State),
			ExitCode:   outcome.ExitCode,
			ReasonCode: outcome.ReasonCode,
			Runtime:    outcome.Runtime.Seconds(),
		}
		if outcome.Err != nil {
			state.Outcome.Error = outcome.Err.Error()
		}
	}
	return state
}

func taskToReport(t *task.Task) *SessionReport {
	report := &SessionReport{CreatedAt: t.CreatedAt}

	lines := t.Log()
	report.Log = make([][2]string, len(lines))
	for i, line := range lines {
		report.Log[i] = [2]string{
			line.Timestamp.Format("2006-01-02 15:04:05.000"),
			line.Data,
		}
	}
	if outcome, ok := t.Outcome(); ok {
		report.StdoutTail = outcome.StdoutTail
	}
	return report
}

func taskToSession(t *task.Task, filter string) Session {
	s := Session{
		ID:        t.ID,
		Type:      string(t.Kind),
		Reference: t.Reference,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt(),
	}

	includeAll := filter == ""
	if includeAll || strings.Contains(filter, "config") {
		s.Config = taskToConfig(t)
	}
	if includeAll || strings.Contains(filter, "state") {
		s.State = taskToState(t)
	}
	if includeAll || strings.Contains(filter, "report") {
		s.Report = taskToReport(t)
	}

	return s
}
