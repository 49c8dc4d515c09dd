package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/jobs"
	"github.com/fyrsmithlabs/dispatchd/internal/knowledge"
	"github.com/fyrsmithlabs/dispatchd/internal/modelconfig"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

// handleExecute runs the synchronous execution pipeline.
func (s *Server) handleExecute(c echo.Context) error {
	var req orchestrator.ExecutionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid execute request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.orch.Execute(c.Request().Context(), &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// SubmitJobRequest is the request body for POST /api/v1/jobs.
type SubmitJobRequest struct {
	Type  string `json:"type"`
	Input string `json:"input"`
}

// SubmitJobResponse is the 202 body for an accepted job.
type SubmitJobResponse struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
}

func (s *Server) handleSubmitJob(c echo.Context) error {
	var req SubmitJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "type field is required")
	}

	job, err := s.jobs.Submit(c.Request().Context(), req.Type, req.Input)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, SubmitJobResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleGetJob(c echo.Context) error {
	job, err := s.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleListJobs(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	list, err := s.jobs.List(c.Request().Context(), jobs.Status(c.QueryParam("status")), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string][]jobs.Job{"jobs": list})
}

// CancelJobResponse reports whether the cancel request was accepted.
type CancelJobResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (s *Server) handleCancelJob(c echo.Context) error {
	accepted, err := s.jobs.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, CancelJobResponse{Cancelled: accepted})
}

func (s *Server) handleDeleteJob(c echo.Context) error {
	if err := s.jobs.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CleanupResponse reports how many terminal jobs were deleted.
type CleanupResponse struct {
	Deleted int `json:"deleted"`
}

func (s *Server) handleCleanupJobs(c echo.Context) error {
	days := 7
	if v := c.QueryParam("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a non-negative integer")
		}
		days = parsed
	}

	deleted, err := s.jobs.Cleanup(c.Request().Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, CleanupResponse{Deleted: deleted})
}

// KnowledgeSearchResponse holds ranked matches for a search.
type KnowledgeSearchResponse struct {
	Matches []knowledge.Match `json:"matches"`
}

func (s *Server) handleKnowledgeSearch(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter is required")
	}

	topK, _ := strconv.Atoi(c.QueryParam("top_k"))
	threshold := 0.0
	if v := c.QueryParam("similarity_threshold"); v != "" {
		parsed, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "similarity_threshold must be numeric")
		}
		threshold = parsed
	}
	includeGlobal, _ := strconv.ParseBool(c.QueryParam("include_global"))

	matches, err := s.knowledge.Search(c.Request().Context(), knowledge.Query{
		Text:          query,
		ProjectID:     c.QueryParam("project_id"),
		IncludeGlobal: includeGlobal,
		Type:          c.QueryParam("type"),
		TopK:          topK,
		Threshold:     float32(threshold),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, KnowledgeSearchResponse{Matches: matches})
}

// StoreKnowledgeRequest is the request body for POST /api/v1/knowledge.
type StoreKnowledgeRequest struct {
	Content   string            `json:"content"`
	ProjectID string            `json:"project_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// StoreKnowledgeResponse returns the stored document id.
type StoreKnowledgeResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleKnowledgeStore(c echo.Context) error {
	var req StoreKnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	id, err := s.knowledge.StoreDocument(c.Request().Context(), knowledge.Document{
		Content:   req.Content,
		ProjectID: req.ProjectID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, StoreKnowledgeResponse{ID: id})
}

func (s *Server) handleKnowledgeDelete(c echo.Context) error {
	if err := s.knowledge.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteProjectResponse reports how many documents were removed.
type DeleteProjectResponse struct {
	Deleted int `json:"deleted"`
}

func (s *Server) handleKnowledgeDeleteProject(c echo.Context) error {
	deleted, err := s.knowledge.DeleteProject(c.Request().Context(), c.Param("project_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, DeleteProjectResponse{Deleted: deleted})
}

func (s *Server) handleAuditList(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	records, err := s.audit.List(c.Request().Context(), c.QueryParam("usage_type"), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleAuditSummary(c echo.Context) error {
	var since time.Time
	if v := c.QueryParam("since_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "since_hours must be a non-negative integer")
		}
		since = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	}

	summary, err := s.audit.Summary(c.Request().Context(), since)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"summary": summary})
}

func (s *Server) handleListModels(c echo.Context) error {
	list, err := s.models.List(c.Request().Context(), c.QueryParam("usage_type"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string][]modelconfig.ModelConfig{"models": list})
}

func (s *Server) handlePutModel(c echo.Context) error {
	var cfg modelconfig.ModelConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.models.Put(c.Request().Context(), &cfg); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, cfg)
}

func (s *Server) handleActivateModel(c echo.Context) error {
	if err := s.models.SetActive(c.Request().Context(), c.Param("id"), true); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeactivateModel(c echo.Context) error {
	if err := s.models.SetActive(c.Request().Context(), c.Param("id"), false); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteModel(c echo.Context) error {
	if err := s.models.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
