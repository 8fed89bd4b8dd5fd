package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
)

func seedOrder(t *testing.T, svc *OrderSyncService, orderID int64, status string) {
	t.Helper()
	_, err := svc.Sync(context.Background(), orderID, models.PartialOrder{
		OrderStatus: models.StringPtr(status),
		Items: []models.PartialSubOrder{
			{SubOrderID: 1, ItemStatus: models.StringPtr(status)},
		},
	}, models.SourceMarketplaceOrders, SyncOptions{})
	require.NoError(t, err)
}

func TestOrderService_GetOrderNotFound(t *testing.T) {
	syncSvc, store := newTestSyncService(t)
	svc := NewOrderService(store, syncSvc)

	_, err := svc.GetOrder(context.Background(), 404)
	assert.ErrorIs(t, err, apperror.ErrOrderNotFound)
	assert.True(t, apperror.IsNotFound(err))
}

func TestOrderService_OverrideStatus(t *testing.T) {
	syncSvc, store := newTestSyncService(t)
	svc := NewOrderService(store, syncSvc)
	seedOrder(t, syncSvc, 10, "Confirmed")

	result, err := svc.OverrideStatus(context.Background(), 10, "anna", StatusOverrideInput{
		OrderStatus: models.StringPtr("Cancelled"),
		Items:       []ItemStatusOverride{{SubOrderID: 1, ItemStatus: "Cancelled"}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionUpdated, result.Action)

	history, err := svc.GetHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history.StatusHistory, 2)
	last := history.StatusHistory[1]
	assert.Equal(t, "operator:anna", last.Source)
	assert.Equal(t, "Confirmed", *last.OldStatus)
	assert.Equal(t, "Cancelled", last.NewStatus)
	require.Len(t, history.Items, 1)
	assert.Equal(t, "Cancelled", history.Items[0].ItemStatus)
	assert.Len(t, history.Items[0].StatusHistory, 2)
}

func TestOrderService_OverrideStatusRequiresExistingOrder(t *testing.T) {
	syncSvc, store := newTestSyncService(t)
	svc := NewOrderService(store, syncSvc)

	_, err := svc.OverrideStatus(context.Background(), 77, "anna", StatusOverrideInput{OrderStatus: models.StringPtr("Shipped")})
	assert.True(t, apperror.IsNotFound(err))

	_, err = svc.GetOrder(context.Background(), 77)
	assert.True(t, apperror.IsNotFound(err))
}

func TestOrderService_OverrideStatusValidation(t *testing.T) {
	syncSvc, store := newTestSyncService(t)
	svc := NewOrderService(store, syncSvc)
	seedOrder(t, syncSvc, 10, "Confirmed")

	cases := map[string]StatusOverrideInput{
		"empty":        {},
		"blank status": {OrderStatus: models.StringPtr("  ")},
		"blank item":   {Items: []ItemStatusOverride{{SubOrderID: 1}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.OverrideStatus(context.Background(), 10, "anna", in)
			assert.True(t, apperror.IsValidation(err))
		})
	}
}

func TestOrderService_ListOrders(t *testing.T) {
	syncSvc, store := newTestSyncService(t)
	svc := NewOrderService(store, syncSvc)
	seedOrder(t, syncSvc, 1, "Created")
	seedOrder(t, syncSvc, 2, "Shipped")
	seedOrder(t, syncSvc, 3, "Shipped")

	page, err := svc.ListOrders(context.Background(), "Shipped", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, defaultOrderListLimit, page.Limit)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, int64(3), page.Orders[0].OrderID)

	page, err = svc.ListOrders(context.Background(), "", 1000, 1)
	require.NoError(t, err)
	assert.Equal(t, maxOrderListLimit, page.Limit)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Orders, 2)
}
