package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
	"github.com/ignatzorin/order-sync-gateway/internal/upstream"
	"github.com/ignatzorin/order-sync-gateway/internal/webhook"
)

const (
	defaultReconcilePageSize = 50
	defaultReconcileMaxPages = 100
)

// OrderLister - постраничное чтение заказов платформы.
type OrderLister interface {
	ListOrders(ctx context.Context, status string, page, pageSize int) (*upstream.OrdersPage, error)
}

// ReconcileReport - итог сверки с платформой.
type ReconcileReport struct {
	Pages     int `json:"pages"`
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
}

// ReconcileService подтягивает заказы с маркетплейса, если вебхуки потерялись.
type ReconcileService struct {
	lister   OrderLister
	sync     *OrderSyncService
	pageSize int
	maxPages int
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(lister OrderLister, sync *OrderSyncService, pageSize int) *ReconcileService {
	if pageSize <= 0 {
		pageSize = defaultReconcilePageSize
	}
	return &ReconcileService{
		lister:   lister,
		sync:     sync,
		pageSize: pageSize,
		maxPages: defaultReconcileMaxPages,
	}
}

// Reconcile проходит страницы заказов с указанным статусом (пустой - все)
// и синхронизирует каждый заказ с источником reconcile.
func (s *ReconcileService) Reconcile(ctx context.Context, status string) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	log := logger.Log.WithFields(logrus.Fields{"source": models.SourceReconcile, "status": status})

	for page := 1; page <= s.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := s.lister.ListOrders(ctx, status, page, s.pageSize)
		if err != nil {
			return report, err
		}
		report.Pages++

		if len(result.Orders) > 0 {
			body, err := json.Marshal(result.Orders)
			if err != nil {
				return report, apperror.Wrap(err, apperror.ErrCodeUpstream, "некорректная страница заказов")
			}
			entries, err := webhook.ParseOrders(body)
			if err != nil {
				return report, apperror.Wrap(err, apperror.ErrCodeUpstream,
					fmt.Sprintf("страница %d не прошла проверку", page))
			}

			batch, err := s.sync.SyncEntries(ctx, entries, models.SourceReconcile, nil)
			if batch != nil {
				report.add(batch)
			}
			if err != nil {
				return report, err
			}
		}

		if !result.HasMore() {
			break
		}
	}

	log.WithFields(logrus.Fields{
		"pages":     report.Pages,
		"processed": report.Processed,
		"failed":    report.Failed,
	}).Info("Сверка заказов завершена")
	return report, nil
}

func (r *ReconcileReport) add(batch *BatchReport) {
	r.Total += batch.Total
	r.Processed += batch.Processed
	r.Failed += batch.Failed
	for _, d := range batch.Details {
		switch d.Action {
		case models.SyncActionInserted:
			r.Inserted++
		case models.SyncActionUpdated:
			r.Updated++
		}
	}
}
