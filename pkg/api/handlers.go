package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/engine"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/task"
	"github.com/dhanushk2105/pointandclick-dhanush/pkg/version"
)

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Task string `json:"task"`
}

// ExecuteResponse acknowledges an accepted task.
type ExecuteResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// StatusResponse is the body of GET /status/:task_id.
type StatusResponse struct {
	TaskID        string     `json:"task_id"`
	Status        string     `json:"status"`
	StepsExecuted int        `json:"steps_executed"`
	TotalSteps    int        `json:"total_steps"` // step budget, not steps taken
	RetryCount    int        `json:"retry_count"`
	CurrentStep   *task.Step `json:"current_step,omitempty"`
	LastRationale string     `json:"last_rationale,omitempty"`
	Verification  string     `json:"verification,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ExecuteTask handles POST /execute. The task is queued and the call
// returns immediately; progress is read via /status.
func (s *Server) ExecuteTask(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task must not be empty"})
		return
	}

	t := s.registry.Create(strings.TrimSpace(req.Task))
	if err := s.pool.Submit(t); err != nil {
		_ = s.registry.Delete(t.ID())
		if errors.Is(err, engine.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task queue is full"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, ExecuteResponse{TaskID: t.ID(), Status: string(task.StatusQueued)})
}

// TaskStatus handles GET /status/:task_id.
func (s *Server) TaskStatus(c *gin.Context) {
	snap, err := s.registry.Snapshot(c.Param("task_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	resp := StatusResponse{
		TaskID:        snap.ID,
		Status:        string(snap.Status),
		StepsExecuted: len(snap.Steps),
		TotalSteps:    s.pool.MaxSteps(),
		RetryCount:    snap.RetryCount,
		LastRationale: snap.LastRationale,
		Verification:  snap.Verification,
		Error:         snap.FailReason,
	}
	if n := len(snap.Steps); n > 0 && !snap.Status.Terminal() {
		resp.CurrentStep = &snap.Steps[n-1]
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteTask handles DELETE /task/:task_id. Running tasks are cancelled
// before removal.
func (s *Server) DeleteTask(c *gin.Context) {
	id := c.Param("task_id")
	s.pool.Cancel(id)
	if err := s.registry.Delete(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// Cleanup handles POST /cleanup. Removes terminal tasks beyond the most
// recent keep_last_n.
func (s *Server) Cleanup(c *gin.Context) {
	keep := 10
	if v := c.Query("keep_last_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "keep_last_n must be a non-negative integer"})
			return
		}
		keep = n
	}
	removed := s.registry.CleanupTerminal(keep)
	c.JSON(http.StatusOK, gin.H{"removed": removed, "remaining": s.registry.Count()})
}

// ServiceInfo handles GET /.
func (s *Server) ServiceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   version.AppName,
		"version":   version.GitCommit,
		"status":    "running",
		"connected": s.link.Connected(),
	})
}

// Health handles GET /healthz. Degraded (still 200) when the agent
// socket is down; task submission keeps working either way.
func (s *Server) Health(c *gin.Context) {
	status := "healthy"
	if !s.link.Connected() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"agent_link":   string(s.link.State()),
		"active_tasks": s.registry.CountActive(),
		"queued_tasks": s.pool.QueuedCount(),
		"workers":      s.pool.Health(),
	})
}
