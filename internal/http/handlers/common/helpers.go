package common

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/order-sync-gateway/internal/dto"
	"github.com/ignatzorin/order-sync-gateway/internal/http/middleware"
)

var (
	// ErrUserNotFound is returned when the operator is not found in context
	ErrUserNotFound = errors.New("оператор не найден в контексте")

	// ErrInvalidOrderID is returned when order id parsing fails
	ErrInvalidOrderID = errors.New("неверный идентификатор заказа")
)

// CurrentUsername extracts the operator username from Gin context
func CurrentUsername(c *gin.Context) (string, error) {
	username := middleware.CurrentUsername(c)
	if username == "" {
		return "", ErrUserNotFound
	}
	return username, nil
}

// OrderIDParam returns the order id parsed by middleware.OrderIDValidator,
// falling back to parsing the URL parameter
func OrderIDParam(c *gin.Context, paramName string) (int64, error) {
	if v, ok := c.Get(paramName); ok {
		if id, ok := v.(int64); ok {
			return id, nil
		}
	}
	id, err := strconv.ParseInt(c.Param(paramName), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidOrderID
	}
	return id, nil
}

// RespondError sends a standardized error response
func RespondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, dto.ErrorResponse{Error: message})
}

// RespondSuccess sends a standardized success response
func RespondSuccess(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, dto.SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// RespondUnauthorized sends a 401 Unauthorized response
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "требуется авторизация"
	}
	RespondError(c, http.StatusUnauthorized, message)
}

// RespondBadRequest sends a 400 Bad Request response
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = "некорректный запрос"
	}
	RespondError(c, http.StatusBadRequest, message)
}

// ParseIntQuery safely reads an integer query parameter with a fallback value
func ParseIntQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// GetPagination extracts limit and offset from query parameters with defaults
func GetPagination(c *gin.Context) (limit, offset int) {
	limit = ParseIntQuery(c, "limit", 20)
	offset = ParseIntQuery(c, "offset", 0)
	if limit > 100 {
		limit = 100
	}
	if limit < 1 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return
}
