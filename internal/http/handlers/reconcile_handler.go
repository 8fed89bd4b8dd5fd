package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/order-sync-gateway/internal/dto"
	"github.com/ignatzorin/order-sync-gateway/internal/http/handlers/common"
	"github.com/ignatzorin/order-sync-gateway/internal/service"
)

// ReconcileHandler запускает сверку с маркетплейсом.
type ReconcileHandler struct {
	reconcile *service.ReconcileService
}

// NewReconcileHandler создаёт хэндлер.
func NewReconcileHandler(reconcile *service.ReconcileService) *ReconcileHandler {
	return &ReconcileHandler{reconcile: reconcile}
}

// Reconcile обрабатывает POST /api/admin/reconcile. Тело необязательно.
func (h *ReconcileHandler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		common.RespondBadRequest(c, err.Error())
		return
	}

	report, err := h.reconcile.Reconcile(c.Request.Context(), req.Status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}
