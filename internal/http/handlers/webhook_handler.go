package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/order-sync-gateway/internal/http/middleware"
	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
	"github.com/ignatzorin/order-sync-gateway/internal/service"
	"github.com/ignatzorin/order-sync-gateway/internal/storage"
	"github.com/ignatzorin/order-sync-gateway/internal/webhook"
)

// DocumentSaver сохраняет документ кредит-ноты и возвращает относительный путь.
type DocumentSaver interface {
	Save(ctx context.Context, orderID int64, documentID string, data []byte) (string, error)
}

type batchParser func(body []byte) ([]webhook.Entry, error)

// WebhookHandler принимает пакеты состояний заказов от платформ.
// Маршруты отличаются только разбором тела и тегом источника.
type WebhookHandler struct {
	sync      *service.OrderSyncService
	documents DocumentSaver
}

// NewWebhookHandler создаёт хэндлер. documents может быть nil, тогда PDF не сохраняются.
func NewWebhookHandler(sync *service.OrderSyncService, documents DocumentSaver) *WebhookHandler {
	return &WebhookHandler{sync: sync, documents: documents}
}

// MarketplaceOrders обрабатывает POST /webhooks/marketplace/orders.
func (h *WebhookHandler) MarketplaceOrders(c *gin.Context) {
	h.handle(c, webhook.ParseOrders, models.SourceMarketplaceOrders, nil)
}

// MarketplaceReturns обрабатывает POST /webhooks/marketplace/returns.
func (h *WebhookHandler) MarketplaceReturns(c *gin.Context) {
	h.handle(c, webhook.ParseCreditNotes, models.SourceMarketplaceReturns, h.saveCreditNoteDocument)
}

// LogisticsShipments обрабатывает POST /webhooks/logistics/shipments.
func (h *WebhookHandler) LogisticsShipments(c *gin.Context) {
	h.handle(c, webhook.ParseShipments, models.SourceLogisticsShipments, nil)
}

func (h *WebhookHandler) handle(c *gin.Context, parse batchParser, source string, prepare service.EntryPreparer) {
	body, ok := middleware.RawBody(c)
	if !ok {
		var err error
		body, err = io.ReadAll(c.Request.Body)
		if err != nil {
			_ = c.Error(apperror.Wrap(err, apperror.ErrCodeBadRequest, "не удалось прочитать тело запроса"))
			return
		}
	}

	entries, err := parse(body)
	if err != nil {
		_ = c.Error(err)
		return
	}

	report, err := h.sync.SyncEntries(c.Request.Context(), entries, source, prepare)
	if err != nil {
		_ = c.Error(err)
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"source":     source,
		"total":      report.Total,
		"processed":  report.Processed,
		"failed":     report.Failed,
		"request_id": c.GetString(middleware.ContextRequestIDKey),
	}).Info("Пакет вебхука обработан")
	c.JSON(http.StatusOK, report)
}

// saveCreditNoteDocument сохраняет приложенный PDF и дописывает путь в запись returns.
func (h *WebhookHandler) saveCreditNoteDocument(ctx context.Context, entry *webhook.Entry) error {
	note := entry.CreditNote
	if note == nil || len(note.Document) == 0 || h.documents == nil {
		return nil
	}

	path, err := h.documents.Save(ctx, entry.OrderID, note.ID, note.Document)
	if errors.Is(err, storage.ErrUnsupportedDocument) || errors.Is(err, storage.ErrDocumentTooLarge) {
		return apperror.MalformedState("кредит-нота %s: %v", note.ID, err)
	}
	if err != nil {
		return apperror.StorageUnavailable(err)
	}

	entry.ExtraPush = map[string]any{webhook.ReturnsField: note.Record(path)}
	return nil
}
