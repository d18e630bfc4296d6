package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ametller/crewd/internal/application/crew"
	"github.com/ametller/crewd/pkg/domain"
)

// RunSubmitResponse represents a run submission response
type RunSubmitResponse struct {
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"service": "ok"}
	status := "healthy"
	if s.pool != nil && !s.pool.Healthy() {
		checks["worker_pool"] = "degraded"
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleSubmitRun handles run submission
func (s *Server) handleSubmitRun(c *gin.Context) {
	var spec crew.RunSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	runID, err := s.service.SubmitRun(c.Request.Context(), spec)
	if err != nil {
		s.logger.Error("failed to submit run", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "SUBMISSION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, RunSubmitResponse{
		RunID:       runID,
		Status:      string(domain.RunStatusSubmitted),
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListRuns handles listing runs
func (s *Server) handleListRuns(c *gin.Context) {
	ids, err := s.service.ListRuns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "LIST_FAILED",
				Message: err.Error(),
			},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  ids,
		"total": len(ids),
	})
}

// handleGetRun handles getting run details
func (s *Server) handleGetRun(c *gin.Context) {
	report, err := s.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Run not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleGetStatus handles getting run status
func (s *Server) handleGetStatus(c *gin.Context) {
	report, err := s.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Run not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       report.RunID,
		"status":       report.Status,
		"submitted_at": report.SubmittedAt,
		"started_at":   report.StartedAt,
		"completed_at": report.CompletedAt,
	})
}

// handleGetResult handles getting run results
func (s *Server) handleGetResult(c *gin.Context) {
	report, err := s.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Run not found",
			},
		})
		return
	}

	if report.Status == domain.RunStatusSubmitted || report.Status == domain.RunStatusRunning {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_COMPLETED",
				Message: "Run not yet completed",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       report.RunID,
		"status":       report.Status,
		"tasks":        report.Tasks,
		"completed":    report.Completed,
		"failed":       report.Failed,
		"skipped":      report.Skipped,
		"completed_at": report.CompletedAt,
	})
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.service.CancelRun(c.Request.Context(), runID); err != nil {
		code := http.StatusConflict
		if errors.Is(err, crew.ErrRunNotActive) {
			code = http.StatusNotFound
		}
		c.JSON(code, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CANCELLATION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       "cancelling",
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleExperimentAssignment resolves the variant for a caller key
func (s *Server) handleExperimentAssignment(c *gin.Context) {
	if s.exp == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "EXPERIMENT_NOT_CONFIGURED",
				Message: "No experiment is configured",
			},
		})
		return
	}

	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "query parameter 'key' is required",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":     key,
		"variant": s.exp.Assign(key),
	})
}

// handleExperimentStats returns accumulated per-variant outcomes
func (s *Server) handleExperimentStats(c *gin.Context) {
	if s.exp == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "EXPERIMENT_NOT_CONFIGURED",
				Message: "No experiment is configured",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"variants": s.exp.Stats()})
}

// handleListWorkers reports the worker pool composition
func (s *Server) handleListWorkers(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "POOL_NOT_AVAILABLE",
				Message: "Worker pool is not configured",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"size":    s.pool.Size(),
		"workers": s.pool.GetStatus(),
	})
}
