package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/streamvigil/vigil/internal/api/handlers"
	"github.com/streamvigil/vigil/internal/api/middleware"
)

type Deps struct {
	JWTSecret string

	Streams     *handlers.StreamHandler
	Detections  *handlers.DetectionHandler
	Assignments *handlers.AssignmentHandler
	SSE         *handlers.SSEHandler
	WS          *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	auth := r.Group("/api")
	auth.Use(middleware.JWTAuth(d.JWTSecret))

	auth.GET("/streams", d.Streams.List)
	auth.GET("/streams/:id", d.Streams.Get)
	auth.GET("/streams/interactive/sse", d.SSE.JobProgress)

	admin := auth.Group("/")
	admin.Use(middleware.RequireAdmin())
	admin.POST("/streams", d.Streams.InteractiveCreate)
	admin.POST("/streams/:id/monitor", d.Streams.StartMonitoring)
	admin.DELETE("/streams/:id/monitor", d.Streams.StopMonitoring)
	admin.DELETE("/streams/:id", d.Streams.Delete)
	admin.POST("/assignments", d.Assignments.Create)

	auth.GET("/assignments/mine", d.Assignments.Mine)
	auth.GET("/notifications/unread", d.Detections.Unread)
	auth.POST("/notifications/:id/read", d.Detections.MarkRead)

	auth.GET("/ws", d.WS.Connect)
}
