package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ignatzorin/order-sync-gateway/internal/http/handlers/common"
	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/ws"
)

// WSHandler отвечает за установку WebSocket соединений.
// Токен проверяет AuthMiddleware (заголовок или ?token=).
type WSHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewWSHandler создаёт новый хэндлер.
func NewWSHandler(hub *ws.Hub, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// Handle обслуживает GET /api/ws?token=...
func (h *WSHandler) Handle(c *gin.Context) {
	username, err := common.CurrentUsername(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.WithError(err).Warn("Не удалось установить websocket соединение")
		return
	}

	client := ws.NewClient(conn, h.hub, username)
	if !h.hub.Register(client) {
		_ = conn.Close()
		return
	}
	client.Run(c.Request.Context())
}
