package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/streamvigil/vigil/internal/hub"
	"github.com/streamvigil/vigil/internal/models"
)

type WSHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

// Connect upgrades the request and serves the client until either side
// drops. Identity comes from the JWT middleware.
func (h *WSHandler) Connect(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	role := userRole(c)
	if role == "" {
		role = models.RoleAgent
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote the response in most cases
		return
	}

	client := hub.NewClient(h.hub, conn, userID, role)
	client.Serve(c.Request.Context())
}
