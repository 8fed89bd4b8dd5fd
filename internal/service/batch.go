package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
	"github.com/ignatzorin/order-sync-gateway/internal/webhook"
)

// EntryOutcome - итог обработки одной записи пакета.
type EntryOutcome struct {
	Index   int               `json:"index"`
	OrderID int64             `json:"order_id,omitempty"`
	RawID   string            `json:"raw_id,omitempty"`
	Status  string            `json:"status"`
	Action  models.SyncAction `json:"action,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Статусы записи в отчёте.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// BatchReport - сводка по пакету вебхука.
type BatchReport struct {
	Total     int            `json:"total"`
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Details   []EntryOutcome `json:"details"`
}

// EntryPreparer выполняется перед синхронизацией записи (например, сохраняет документ).
// Ошибка MalformedState помечает запись как неуспешную, любая другая прерывает пакет.
type EntryPreparer func(ctx context.Context, entry *webhook.Entry) error

// SyncEntries синхронизирует записи пакета последовательно в исходном порядке.
// Ошибка записи не прерывает пакет, кроме недоступности хранилища: тогда возвращается
// отчёт по уже обработанным записям и ошибка.
func (s *OrderSyncService) SyncEntries(ctx context.Context, entries []webhook.Entry, source string, prepare EntryPreparer) (*BatchReport, error) {
	report := &BatchReport{Total: len(entries), Details: make([]EntryOutcome, 0, len(entries))}

	for i := range entries {
		entry := &entries[i]
		outcome := EntryOutcome{Index: entry.Index, OrderID: entry.OrderID, RawID: entry.RawID}

		err := entry.Err
		if err == nil && prepare != nil {
			err = prepare(ctx, entry)
		}
		if err == nil {
			var result *models.SyncResult
			result, err = s.Sync(ctx, entry.OrderID, entry.Desired, source, SyncOptions{
				ExtraSet:  entry.ExtraSet,
				ExtraPush: entry.ExtraPush,
			})
			if err == nil {
				outcome.Action = result.Action
			}
		}

		if err != nil {
			if !apperror.IsMalformedState(err) && !apperror.IsConflict(err) {
				logger.Log.WithFields(logrus.Fields{
					"source":   source,
					"order_id": entry.OrderID,
					"index":    entry.Index,
				}).WithError(err).Error("Обработка пакета прервана")
				return report, err
			}
			outcome.Status = OutcomeFailed
			outcome.Error = err.Error()
			report.Failed++
			logger.Log.WithFields(logrus.Fields{
				"source":   source,
				"order_id": entry.OrderID,
				"raw_id":   entry.RawID,
				"index":    entry.Index,
			}).WithError(err).Warn("Запись пакета пропущена")
		} else {
			outcome.Status = OutcomeSuccess
			report.Processed++
		}
		report.Details = append(report.Details, outcome)
	}
	return report, nil
}
