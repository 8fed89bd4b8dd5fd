package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/order-sync-gateway/internal/logger"
)

const (
	HeaderSignature    = "X-Signature"
	ContextRawBodyKey  = "rawBody"
	signaturePrefix    = "sha256="
	defaultMaxBodySize = 10 << 20
)

// WebhookSignature проверяет HMAC-SHA256 подпись тела запроса.
// Тело читается один раз и кладётся в контекст (RawBody).
// При пустом секрете проверка отключена, тело всё равно сохраняется.
func WebhookSignature(platform, secret string, maxBodyBytes int64) gin.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodySize
	}
	if secret == "" {
		logger.Log.WithField("platform", platform).Warn("Секрет вебхуков не задан, подпись не проверяется")
	}

	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "не удалось прочитать тело запроса"})
			return
		}
		if int64(len(body)) > maxBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "тело запроса слишком большое"})
			return
		}

		if secret != "" && !ValidSignature(secret, body, c.GetHeader(HeaderSignature)) {
			logger.Log.WithFields(logrus.Fields{
				"platform":  platform,
				"client_ip": c.ClientIP(),
			}).Warn("Отклонён вебхук с неверной подписью")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "неверная подпись"})
			return
		}

		c.Set(ContextRawBodyKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// Sign возвращает hex подписи тела.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature сравнивает подпись за постоянное время. Префикс sha256= допускается.
func ValidSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix)
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(got, want)
}

// RawBody возвращает тело, сохранённое WebhookSignature.
func RawBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(ContextRawBodyKey)
	if !ok {
		return nil, false
	}
	body, ok := v.([]byte)
	return body, ok
}
