// Package api is the front HTTP surface: submission, response polling, the
// progress stream, feedback, and the history projections.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/policychat/pkg/database"
	"github.com/carebridge/policychat/pkg/services"
	"github.com/carebridge/policychat/pkg/transport"
	"github.com/carebridge/policychat/pkg/worker"
)

// Server holds the handler dependencies.
type Server struct {
	chat     *services.ChatService
	history  *services.HistoryService
	progress transport.ProgressLog
	pool     *worker.Pool

	// db is nil when the memory substrate is active.
	db *database.Client
}

// NewServer creates the API server. db may be nil (memory substrate).
func NewServer(chat *services.ChatService, history *services.HistoryService, progress transport.ProgressLog, pool *worker.Pool, db *database.Client) *Server {
	return &Server{
		chat:     chat,
		history:  history,
		progress: progress,
		pool:     pool,
		db:       db,
	}
}

// Handler returns the root HTTP handler. The progress stream is mounted
// outside gin: the WebSocket upgrade needs the raw ResponseWriter to hijack
// the connection. Everything else goes through the gin engine.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/stream/{correlation_id}", s.StreamProgress)
	mux.Handle("/", s.Router())
	return mux
}

// Router builds the gin engine with all routes except the progress stream.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders())

	r.GET("/health", s.Health)

	chat := r.Group("/chat")
	{
		chat.POST("", s.SubmitChat)
		chat.GET("/response/:correlation_id", s.GetResponse)
		chat.POST("/feedback", s.SubmitFeedback)

		history := chat.Group("/history")
		{
			history.GET("/recent", s.RecentHistory)
			history.GET("/most-helpful-searches", s.MostHelpfulSearches)
			history.GET("/most-helpful-documents", s.MostHelpfulDocuments)
		}
	}

	return r
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
