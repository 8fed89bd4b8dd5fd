package logger

import (
	"github.com/sirupsen/logrus"
)

// Log - глобальный логгер. До Init пишет в текстовом формате с уровнем Info,
// поэтому пакеты можно использовать в тестах без инициализации.
var Log = logrus.New()

// Init инициализирует структурированный логгер.
func Init(level string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// Используем JSON формат для production, text для development
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetTextFormatter устанавливает текстовый формат логов (для development).
func SetTextFormatter() {
	if Log != nil {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

// WithOrder возвращает запись с полями заказа и источника.
func WithOrder(orderID int64, source string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"order_id": orderID,
		"source":   source,
	})
}
