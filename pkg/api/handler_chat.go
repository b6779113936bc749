package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/policychat/pkg/services"
)

// SubmitChat handles POST /chat: validate, mint ids, enqueue, acknowledge.
func (s *Server) SubmitChat(c *gin.Context) {
	var req services.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.chat.Submit(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// GetResponse handles GET /chat/response/:correlation_id. While no durable
// response exists the body reports status pending; the client keeps polling.
func (s *Server) GetResponse(c *gin.Context) {
	correlationID := c.Param("correlation_id")

	resp, err := s.chat.Response(c.Request.Context(), correlationID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitFeedback handles POST /chat/feedback.
func (s *Server) SubmitFeedback(c *gin.Context) {
	var req services.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.history.RecordFeedback(c.Request.Context(), req); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}
