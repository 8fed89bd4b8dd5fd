package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// OrderIDValidator проверяет, что параметр является положительным целым числом,
// и кладёт разобранное значение в контекст под тем же именем.
// Использование: router.GET("/orders/:id", OrderIDValidator("id"), handler.GetOrder)
func OrderIDValidator(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		idStr := c.Param(paramName)
		if idStr == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "параметр " + paramName + " обязателен",
			})
			return
		}

		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "параметр " + paramName + " должен быть положительным целым числом",
			})
			return
		}

		c.Set(paramName, id)
		c.Next()
	}
}
