package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/order-sync-gateway/internal/service"
)

// Context ключи для gin.Context.
const (
	ContextUsernameKey = "username"
	ContextRoleKey     = "role"
)

// AuthMiddleware проверяет JWT access токен оператора.
// Для websocket токен допускается в query-параметре token.
func AuthMiddleware(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "требуется авторизация"})
			return
		}

		username, role, err := tokens.ParseAccess(raw)
		if err != nil || username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "токен невалиден"})
			return
		}
		if role != service.RoleOperator {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "недостаточно прав"})
			return
		}

		c.Set(ContextUsernameKey, username)
		c.Set(ContextRoleKey, role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return c.Query("token")
}

// CurrentUsername возвращает имя оператора из контекста запроса.
func CurrentUsername(c *gin.Context) string {
	return c.GetString(ContextUsernameKey)
}
