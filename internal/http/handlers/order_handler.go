package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/order-sync-gateway/internal/dto"
	"github.com/ignatzorin/order-sync-gateway/internal/http/handlers/common"
	"github.com/ignatzorin/order-sync-gateway/internal/service"
)

// OrderHandler - операторский доступ к сохранённым заказам.
type OrderHandler struct {
	orders *service.OrderService
}

// NewOrderHandler создаёт новый хэндлер.
func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// ListOrders обрабатывает GET /api/orders?status=&limit=&offset=.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	limit, offset := common.GetPagination(c)

	page, err := h.orders.ListOrders(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.OrderListResponse{
		Data:       page.Orders,
		Pagination: dto.NewPagination(page.Total, page.Limit, page.Offset, len(page.Orders)),
	})
}

// GetOrder обрабатывает GET /api/orders/:id.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, err := common.OrderIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetHistory обрабатывает GET /api/orders/:id/history.
func (h *OrderHandler) GetHistory(c *gin.Context) {
	orderID, err := common.OrderIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	history, err := h.orders.GetHistory(c.Request.Context(), orderID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// OverrideStatus обрабатывает POST /api/orders/:id/status.
func (h *OrderHandler) OverrideStatus(c *gin.Context) {
	username, err := common.CurrentUsername(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	orderID, err := common.OrderIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.StatusOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	in := service.StatusOverrideInput{OrderStatus: req.OrderStatus}
	for _, item := range req.Items {
		in.Items = append(in.Items, service.ItemStatusOverride{
			SubOrderID: item.SubOrderID,
			ItemStatus: item.ItemStatus,
		})
	}

	result, err := h.orders.OverrideStatus(c.Request.Context(), orderID, username, in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
