package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lindqvist/mapfold/internal/db"
	"github.com/lindqvist/mapfold/internal/models"
	"github.com/lindqvist/mapfold/internal/service"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type askRequest struct {
	ConversationID string   `json:"conversation_id" binding:"required"`
	Query          string   `json:"query" binding:"required"`
	ScopeIDs       []string `json:"scope_ids"`
}

// ask routes a query. Synchronous answers return 200 with the answer body;
// queries routed to a background job return 202 with the queued job.
func (s *Server) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.cfg.Query.Ask(c.Request.Context(), service.AskRequest{
		UserID:         currentUser(c),
		ConversationID: req.ConversationID,
		Query:          req.Query,
		ScopeIDs:       req.ScopeIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if resp.Async {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.cfg.Jobs.GetJobStatus(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listJobs(c *gin.Context) {
	opts := db.ListJobsOptions{}
	if v := c.Query("conversation_id"); v != "" {
		opts.ConversationID = &v
	}
	if v := c.Query("status"); v != "" {
		status := models.JobStatus(v)
		opts.Status = &status
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}

	jobs, err := s.cfg.Jobs.ListJobs(c.Request.Context(), currentUser(c), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) cancelJob(c *gin.Context) {
	err := s.cfg.Jobs.CancelJob(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.cfg.Conversations.CreateConversation(c.Request.Context(), currentUser(c), req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) getConversation(c *gin.Context) {
	conv, err := s.cfg.Conversations.GetConversation(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) listMessages(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	messages, err := s.cfg.Conversations.ListMessages(c.Request.Context(), c.Param("id"), currentUser(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) stats(c *gin.Context) {
	if s.cfg.Collector == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Collector.Snapshot())
}

// writeError maps service errors to HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrJobNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
