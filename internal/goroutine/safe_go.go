package goroutine

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/ignatzorin/order-sync-gateway/internal/logger"
)

// Logger интерфейс для логирования ошибок
type Logger interface {
	Errorf(format string, args ...interface{})
}

// RecoveryHandler обрабатывает panic в горутинах
type RecoveryHandler struct {
	logger Logger
}

// NewRecoveryHandler создает новый обработчик
func NewRecoveryHandler(logger Logger) *RecoveryHandler {
	return &RecoveryHandler{logger: logger}
}

// SafeGo запускает горутину с обработкой panic
func (rh *RecoveryHandler) SafeGo(fn func()) {
	go func() {
		defer rh.handlePanic("")
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer rh.handlePanic(" (with context)")
		fn(ctx)
	}()
}

// SafeGoGroup запускает горутину, учтённую в wg. Done вызывается и после panic.
func (rh *RecoveryHandler) SafeGoGroup(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer rh.handlePanic(" (group)")
		fn()
	}()
}

func (rh *RecoveryHandler) handlePanic(kind string) {
	if r := recover(); r != nil {
		rh.logger.Errorf("Panic in goroutine%s: %v\nStack trace:\n%s", kind, r, debug.Stack())
	}
}

// logrusLogger пишет в глобальный логгер приложения.
type logrusLogger struct{}

func (logrusLogger) Errorf(format string, args ...interface{}) {
	logger.Log.Errorf(format, args...)
}

// DefaultRecoveryHandler - глобальный обработчик, пишущий в logger.Log
var DefaultRecoveryHandler = NewRecoveryHandler(logrusLogger{})

// SafeGo - упрощенная функция для запуска безопасной горутины
func SafeGo(fn func()) {
	DefaultRecoveryHandler.SafeGo(fn)
}

// SafeGoWithContext - упрощенная функция для запуска безопасной горутины с контекстом
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	DefaultRecoveryHandler.SafeGoWithContext(ctx, fn)
}

// SafeGoGroup - упрощенная функция для запуска безопасной горутины в группе
func SafeGoGroup(wg *sync.WaitGroup, fn func()) {
	DefaultRecoveryHandler.SafeGoGroup(wg, fn)
}
