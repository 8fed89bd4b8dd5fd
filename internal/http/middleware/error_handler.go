package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
)

// ErrorHandler обрабатывает ошибки централизованно.
// Сообщения AppError отдаются клиенту, остальные ошибки маскируются.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		statusCode := http.StatusInternalServerError
		body := gin.H{"error": "внутренняя ошибка сервера"}

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			statusCode = appErr.HTTPStatus
			body = gin.H{"error": appErr.Message, "code": appErr.Code}
		}

		entry := logger.Log.WithFields(logrus.Fields{
			"error":      err.Error(),
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"status":     statusCode,
			"request_id": c.GetString(ContextRequestIDKey),
		})
		if statusCode >= http.StatusInternalServerError {
			entry.Error("Request error")
		} else {
			entry.Warn("Request error")
		}

		c.JSON(statusCode, body)
	}
}
