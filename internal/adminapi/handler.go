// Package adminapi exposes read-mostly operational tooling over the job
// store: listing records, inspecting one, and replaying a terminally
// failed job. It is not part of the core locking protocol and carries no
// scheduling invariants of its own.
package adminapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/outpostlabs/jobengine/internal/jobcore"
)

type JobHandler struct {
	adapter jobcore.Adapter
	logger  *slog.Logger
}

func NewJobHandler(adapter jobcore.Adapter, logger *slog.Logger) *JobHandler {
	return &JobHandler{adapter: adapter, logger: logger.With("component", "adminapi")}
}

// jobView is the admin API's JSON representation of a jobcore.JobRecord.
type jobView struct {
	ID        string          `json:"id"`
	Handler   string          `json:"handler"`
	Args      json.RawMessage `json:"args"`
	Queue     string          `json:"queue"`
	Priority  int             `json:"priority"`
	RunAt     string          `json:"runAt"`
	LockedAt  *string         `json:"lockedAt,omitempty"`
	LockedBy  *string         `json:"lockedBy,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"lastError,omitempty"`
	FailedAt  *string         `json:"failedAt,omitempty"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
}

func toJobView(r *jobcore.JobRecord) jobView {
	v := jobView{
		ID:        r.ID,
		Handler:   r.Handler,
		Args:      r.Args,
		Queue:     r.Queue,
		Priority:  r.Priority,
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt.Format(timeFormat),
		UpdatedAt: r.UpdatedAt.Format(timeFormat),
	}
	if r.RunAt != nil {
		v.RunAt = r.RunAt.Format(timeFormat)
	}
	if r.LockedAt != nil {
		s := r.LockedAt.Format(timeFormat)
		v.LockedAt = &s
	}
	v.LockedBy = r.LockedBy
	if r.FailedAt != nil {
		s := r.FailedAt.Format(timeFormat)
		v.FailedAt = &s
	}
	return v
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type listJobsResponse struct {
	Jobs       []jobView `json:"jobs"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

// List handles GET /jobs?queue=&limit=&cursor=.
func (h *JobHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	result, err := h.adapter.ListJobs(c.Request.Context(), jobcore.ListOptions{
		Queue:  c.Query("queue"),
		Limit:  limit,
		Cursor: c.Query("cursor"),
	})
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	views := make([]jobView, 0, len(result.Records))
	for _, r := range result.Records {
		views = append(views, toJobView(r))
	}
	c.JSON(http.StatusOK, listJobsResponse{Jobs: views, NextCursor: result.NextCursor})
}

// Get handles GET /jobs/:id.
func (h *JobHandler) Get(c *gin.Context) {
	id := c.Param("id")

	record, err := h.adapter.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, jobcore.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get job", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, toJobView(record))
}

// Retry handles POST /jobs/:id/retry: clears a terminally failed record's
// FailedAt/LastError and resets RunAt to now so the next poll picks it up.
func (h *JobHandler) Retry(c *gin.Context) {
	id := c.Param("id")

	record, err := h.adapter.Retry(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, jobcore.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "retry job", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	operator, _ := c.Get("operator")
	h.logger.InfoContext(c.Request.Context(), "job requeued by operator", "job_id", id, "operator", operator)
	c.JSON(http.StatusOK, toJobView(record))
}
