package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// historyLimit parses the optional ?limit= query parameter.
func historyLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// RecentHistory handles GET /chat/history/recent.
func (s *Server) RecentHistory(c *gin.Context) {
	turns, err := s.history.Recent(c.Request.Context(), historyLimit(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns})
}

// MostHelpfulSearches handles GET /chat/history/searches.
func (s *Server) MostHelpfulSearches(c *gin.Context) {
	stats, err := s.history.MostHelpfulSearches(c.Request.Context(), historyLimit(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"searches": stats})
}

// MostHelpfulDocuments handles GET /chat/history/documents.
func (s *Server) MostHelpfulDocuments(c *gin.Context) {
	stats, err := s.history.MostHelpfulDocuments(c.Request.Context(), historyLimit(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": stats})
}
