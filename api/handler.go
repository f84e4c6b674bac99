package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"acexpander/config"
	"acexpander/job"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	engine *job.Engine
	cfg    *config.Config
}

func NewHandler(e *job.Engine, cfg *config.Config) *Handler {
	return &Handler{
		engine: e,
		cfg:    cfg,
	}
}

type AddJobsRequest struct {
	Paths []string `json:"paths" form:"paths" binding:"required,min=1"`
}

type ProcessRequest struct {
	JobIDs []string `json:"jobIds" form:"jobIds"`
}

func views(jobs []*job.Job) []job.View {
	out := make([]job.View, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	return out
}

// jobError maps engine errors onto HTTP status codes.
func jobError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, job.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, job.ErrJobBusy),
		errors.Is(err, job.ErrInvalidTransition),
		errors.Is(err, job.ErrNoCommand),
		errors.Is(err, job.ErrNoJobs):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// handleAddJobs collects the archives below the given paths and queues a
// job for each of them.
func (h *Handler) handleAddJobs(c *gin.Context) {
	var req AddJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	archives, err := job.CollectArchives(req.Paths, h.cfg.CollectOptions())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid path: %v", err)})
		return
	}
	if len(archives) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No archives found"})
		return
	}

	added := h.engine.Add(archives...)
	c.JSON(http.StatusCreated, views(added))
}

func (h *Handler) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, views(h.engine.List()))
}

func (h *Handler) handleGetJob(c *gin.Context) {
	j, found := h.engine.Get(c.Param("jobId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, j.Snapshot())
}

func (h *Handler) handleRemoveJob(c *gin.Context) {
	if err := h.engine.Remove(c.Param("jobId")); err != nil {
		jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job removed"})
}

func (h *Handler) handleRequeueJob(c *gin.Context) {
	h.changeJob(c, h.engine.Requeue)
}

func (h *Handler) handleToggleSkip(c *gin.Context) {
	h.changeJob(c, h.engine.ToggleSkip)
}

func (h *Handler) changeJob(c *gin.Context, change func(id string) error) {
	id := c.Param("jobId")
	if err := change(id); err != nil {
		jobError(c, err)
		return
	}
	j, found := h.engine.Get(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, j.Snapshot())
}

func (h *Handler) handleRequeueAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"changed": h.engine.RequeueAll()})
}

func (h *Handler) handleSkipAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"changed": h.engine.SkipAll()})
}

func maskCommand(cmd job.Command) job.Command {
	if cmd.Password != "" {
		cmd.Password = "****"
	}
	return cmd
}

// handleSetCommand replaces the command configuration used by the next
// invocation.
func (h *Handler) handleSetCommand(c *gin.Context) {
	var cmd job.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := cmd.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid command: %v", err)})
		return
	}
	h.engine.SetCommand(cmd)
	log.Printf("Command set to %s.", cmd.Kind)
	c.JSON(http.StatusOK, maskCommand(cmd))
}

func (h *Handler) handleGetCommand(c *gin.Context) {
	cmd, ok := h.engine.Command()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No command configured"})
		return
	}
	c.JSON(http.StatusOK, maskCommand(cmd))
}

// handleProcess starts processing the given jobs, or every queued job when
// no IDs are sent. It returns as soon as the jobs are handed to the worker.
func (h *Handler) handleProcess(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	if len(req.JobIDs) == 0 {
		err = h.engine.ProcessQueued()
	} else {
		jobs := make([]*job.Job, 0, len(req.JobIDs))
		for _, id := range req.JobIDs {
			j, found := h.engine.Get(id)
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Job %s not found", id)})
				return
			}
			jobs = append(jobs, j)
		}
		err = h.engine.ProcessJobs(jobs...)
	}
	if err != nil {
		jobError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Processing requested"})
}

func (h *Handler) handleStop(c *gin.Context) {
	h.engine.StopProcessing()
	c.JSON(http.StatusAccepted, gin.H{"message": "Stop requested"})
}

func (h *Handler) handleStatus(c *gin.Context) {
	counts := map[string]int{}
	for _, j := range h.engine.List() {
		counts[j.State().String()]++
	}
	c.JSON(http.StatusOK, gin.H{
		"processing": h.engine.IsProcessing(),
		"jobs":       counts,
	})
}

func (h *Handler) handleVersion(c *gin.Context) {
	v, err := h.engine.UnaceVersion(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": v})
}
