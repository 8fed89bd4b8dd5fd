package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/order-sync-gateway/internal/locker"
	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/pkg/apperror"
	"github.com/ignatzorin/order-sync-gateway/internal/repository"
)

type stepClock struct {
	mu   sync.Mutex
	next time.Time
}

func newStepClock() *stepClock {
	return &stepClock{next: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(time.Second)
	return now
}

func newTestSyncService(t *testing.T) (*OrderSyncService, *repository.MemoryOrderStore) {
	t.Helper()
	store := repository.NewMemoryOrderStore()
	svc := NewOrderSyncService(store, locker.NewKeyedMutex(), 3)
	svc.SetClock(newStepClock().Now)
	return svc, store
}

func mustFind(t *testing.T, store repository.OrderStore, orderID int64) *models.Order {
	t.Helper()
	order, err := store.FindOne(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func TestOrderSync_CreationSeedsHistory(t *testing.T) {
	svc, store := newTestSyncService(t)

	result, err := svc.Sync(context.Background(), 100, models.PartialOrder{OrderStatus: models.StringPtr("Confirmed")}, "test", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionInserted, result.Action)
	assert.Equal(t, int64(100), result.OrderID)

	order := mustFind(t, store, 100)
	assert.Equal(t, "Confirmed", order.OrderStatus)
	require.Len(t, order.StatusHistory, 1)
	assert.Nil(t, order.StatusHistory[0].OldStatus)
	assert.Equal(t, "Confirmed", order.StatusHistory[0].NewStatus)
	assert.Equal(t, "created-by-test", order.StatusHistory[0].Source)
	assert.True(t, order.CreatedAt.Equal(order.LastUpdated))
}

func TestOrderSync_NoOpIsIdempotent(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()
	desired := models.PartialOrder{
		OrderStatus: models.StringPtr("Shipped"),
		Items: []models.PartialSubOrder{
			{SubOrderID: 1, ItemStatus: models.StringPtr("Shipped"), TrackingData: json.RawMessage(`{"code":"TR-1"}`)},
		},
	}

	_, err := svc.Sync(ctx, 7, models.PartialOrder{OrderStatus: models.StringPtr("Created"), Items: []models.PartialSubOrder{{SubOrderID: 1}}}, "create", SyncOptions{})
	require.NoError(t, err)

	first, err := svc.Sync(ctx, 7, desired, "ship", SyncOptions{ExtraSet: map[string]any{"shipment.carrier": "DHL"}})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionUpdated, first.Action)

	before, ok := store.Raw(7)
	require.True(t, ok)

	second, err := svc.Sync(ctx, 7, desired, "ship", SyncOptions{ExtraSet: map[string]any{"shipment.carrier": "DHL"}})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionNoChange, second.Action)
	assert.Empty(t, second.Changes)

	after, ok := store.Raw(7)
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestOrderSync_HistoryIsAppendOnlyAndOrdered(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()
	statuses := []string{"Created", "Confirmed", "Shipped", "Delivered", "Returned"}

	for i, status := range statuses {
		_, err := svc.Sync(ctx, 42, models.PartialOrder{OrderStatus: models.StringPtr(status)}, fmt.Sprintf("step-%d", i), SyncOptions{})
		require.NoError(t, err)
	}

	order := mustFind(t, store, 42)
	require.Len(t, order.StatusHistory, len(statuses))
	assert.Nil(t, order.StatusHistory[0].OldStatus)
	for i := 1; i < len(statuses); i++ {
		entry := order.StatusHistory[i]
		require.NotNil(t, entry.OldStatus)
		assert.Equal(t, statuses[i-1], *entry.OldStatus)
		assert.Equal(t, statuses[i], entry.NewStatus)
		assert.Equal(t, fmt.Sprintf("step-%d", i), entry.Source)
		assert.True(t, entry.Timestamp.After(order.StatusHistory[i-1].Timestamp))
	}
	assert.Equal(t, "Returned", order.OrderStatus)
}

func TestOrderSync_SubOrderIndependence(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()

	_, err := svc.Sync(ctx, 9, models.PartialOrder{
		OrderStatus: models.StringPtr("Created"),
		Items: []models.PartialSubOrder{
			{SubOrderID: 1},
			{SubOrderID: 2, ItemStatus: models.StringPtr("Pending")},
		},
	}, "create", SyncOptions{})
	require.NoError(t, err)

	created := mustFind(t, store, 9)
	assert.Equal(t, "Created", created.FindSubOrder(1).ItemStatus)
	assert.Equal(t, "Pending", created.FindSubOrder(2).ItemStatus)

	result, err := svc.Sync(ctx, 9, models.PartialOrder{
		Items: []models.PartialSubOrder{{SubOrderID: 1, ItemStatus: models.StringPtr("Shipped")}},
	}, "ship-a", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionUpdated, result.Action)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, models.ItemStatusField(1), result.Changes[0].Field)

	order := mustFind(t, store, 9)
	assert.Len(t, order.StatusHistory, 1)
	assert.Len(t, order.FindSubOrder(1).StatusHistory, 2)
	assert.Len(t, order.FindSubOrder(2).StatusHistory, 1)

	_, err = svc.Sync(ctx, 9, models.PartialOrder{OrderStatus: models.StringPtr("Confirmed")}, "confirm", SyncOptions{})
	require.NoError(t, err)

	order = mustFind(t, store, 9)
	assert.Len(t, order.StatusHistory, 2)
	assert.Len(t, order.FindSubOrder(1).StatusHistory, 2)
	assert.Len(t, order.FindSubOrder(2).StatusHistory, 1)
}

func TestOrderSync_UnknownFieldsPreserved(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()

	_, err := svc.Sync(ctx, 11, models.PartialOrder{
		OrderStatus: models.StringPtr("Created"),
		Fields: map[string]any{
			"customer": map[string]any{"name": "Ivan", "phone": "+7000"},
			"total":    1999.5,
		},
		Items: []models.PartialSubOrder{{SubOrderID: 3, Fields: map[string]any{"sku": "SKU-3"}}},
	}, "create", SyncOptions{})
	require.NoError(t, err)

	for i, status := range []string{"Confirmed", "Shipped", "Delivered"} {
		_, err := svc.Sync(ctx, 11, models.PartialOrder{
			OrderStatus: models.StringPtr(status),
			Fields:      map[string]any{"customer": "ignored on update"},
		}, fmt.Sprintf("update-%d", i), SyncOptions{})
		require.NoError(t, err)
	}

	order := mustFind(t, store, 11)
	assert.Equal(t, map[string]any{"name": "Ivan", "phone": "+7000"}, order.Extra["customer"])
	assert.Equal(t, json.Number("1999.5"), order.Extra["total"])
	assert.Equal(t, "SKU-3", order.FindSubOrder(3).Extra["sku"])
}

func TestOrderSync_Order555Scenario(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()

	result, err := svc.Sync(ctx, 555, models.PartialOrder{
		OrderStatus: models.StringPtr("Created"),
		Items:       []models.PartialSubOrder{{SubOrderID: 1, ItemStatus: models.StringPtr("Created")}},
	}, "create", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionInserted, result.Action)

	order := mustFind(t, store, 555)
	assert.Len(t, order.StatusHistory, 1)
	assert.Len(t, order.FindSubOrder(1).StatusHistory, 1)

	result, err = svc.Sync(ctx, 555, models.PartialOrder{OrderStatus: models.StringPtr("Confirmed")}, "confirm", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionUpdated, result.Action)
	assert.Equal(t, []models.FieldChange{{Field: models.FieldOrderStatus, Old: "Created", New: "Confirmed"}}, result.Changes)

	order = mustFind(t, store, 555)
	require.Len(t, order.StatusHistory, 2)
	assert.Equal(t, "Created", *order.StatusHistory[1].OldStatus)
	assert.Equal(t, "Confirmed", order.StatusHistory[1].NewStatus)
	assert.Len(t, order.FindSubOrder(1).StatusHistory, 1)

	result, err = svc.Sync(ctx, 555, models.PartialOrder{OrderStatus: models.StringPtr("Confirmed")}, "confirm-again", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionNoChange, result.Action)
	assert.Len(t, mustFind(t, store, 555).StatusHistory, 2)
}

func TestOrderSync_ExtraPushIncrementsSequence(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()
	desired := models.PartialOrder{OrderStatus: models.StringPtr("Delivered")}

	_, err := svc.Sync(ctx, 300, desired, "create", SyncOptions{})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		note := map[string]any{"credit_note_id": i, "amount": "10.00"}
		result, err := svc.Sync(ctx, 300, desired, "return", SyncOptions{ExtraPush: map[string]any{"returns": note}})
		require.NoError(t, err)
		assert.Equal(t, models.SyncActionUpdated, result.Action)

		order := mustFind(t, store, 300)
		returns, ok := order.Extra["returns"].([]any)
		require.True(t, ok)
		assert.Len(t, returns, i)
		assert.Len(t, order.StatusHistory, 1)
	}
}

func TestOrderSync_ExtraSetNestedPath(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()

	_, err := svc.Sync(ctx, 12, models.PartialOrder{OrderStatus: models.StringPtr("Shipped")}, "create", SyncOptions{
		ExtraSet: map[string]any{"shipment.carrier": "DHL", "shipment.tracking_number": "JD0001"},
	})
	require.NoError(t, err)

	result, err := svc.Sync(ctx, 12, models.PartialOrder{}, "track", SyncOptions{
		ExtraSet: map[string]any{"shipment.tracking_number": "JD0002"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionUpdated, result.Action)
	assert.Equal(t, []models.FieldChange{{Field: "shipment.tracking_number", Old: "JD0001", New: "JD0002"}}, result.Changes)

	order := mustFind(t, store, 12)
	assert.Equal(t, map[string]any{"carrier": "DHL", "tracking_number": "JD0002"}, order.Extra["shipment"])
	assert.Len(t, order.StatusHistory, 1)
}

func TestOrderSync_UnknownSubOrderIgnoredOnUpdate(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()

	_, err := svc.Sync(ctx, 13, models.PartialOrder{
		OrderStatus: models.StringPtr("Created"),
		Items:       []models.PartialSubOrder{{SubOrderID: 1}},
	}, "create", SyncOptions{})
	require.NoError(t, err)

	result, err := svc.Sync(ctx, 13, models.PartialOrder{
		Items: []models.PartialSubOrder{{SubOrderID: 2, ItemStatus: models.StringPtr("Shipped")}},
	}, "ship", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionNoChange, result.Action)

	order := mustFind(t, store, 13)
	assert.Len(t, order.SubItems, 1)
	assert.Nil(t, order.FindSubOrder(2))
}

func TestOrderSync_TrackingDataLastWriteWins(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()

	_, err := svc.Sync(ctx, 14, models.PartialOrder{
		OrderStatus: models.StringPtr("Created"),
		Items:       []models.PartialSubOrder{{SubOrderID: 5, TrackingData: json.RawMessage(`{"code":"A"}`)}},
	}, "create", SyncOptions{})
	require.NoError(t, err)

	result, err := svc.Sync(ctx, 14, models.PartialOrder{
		Items: []models.PartialSubOrder{{SubOrderID: 5, TrackingData: json.RawMessage(`{"code": "B"}`)}},
	}, "track", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionUpdated, result.Action)

	item := mustFind(t, store, 14).FindSubOrder(5)
	assert.JSONEq(t, `{"code":"B"}`, string(item.TrackingData))
	assert.Len(t, item.StatusHistory, 1)
}

func TestOrderSync_LastUpdatedMonotonic(t *testing.T) {
	store := repository.NewMemoryOrderStore()
	svc := NewOrderSyncService(store, nil, 3)
	frozen := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return frozen })
	ctx := context.Background()

	_, err := svc.Sync(ctx, 15, models.PartialOrder{OrderStatus: models.StringPtr("Created")}, "create", SyncOptions{})
	require.NoError(t, err)
	_, err = svc.Sync(ctx, 15, models.PartialOrder{OrderStatus: models.StringPtr("Confirmed")}, "confirm", SyncOptions{})
	require.NoError(t, err)

	order := mustFind(t, store, 15)
	assert.True(t, order.LastUpdated.After(order.CreatedAt))
}

func TestOrderSync_MalformedInput(t *testing.T) {
	svc, _ := newTestSyncService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		orderID int64
		desired models.PartialOrder
		source  string
		opts    SyncOptions
	}{
		{name: "non-positive id", orderID: 0, source: "test"},
		{name: "empty source", orderID: 1, source: ""},
		{name: "bad suborder id", orderID: 1, source: "test", desired: models.PartialOrder{Items: []models.PartialSubOrder{{SubOrderID: -1}}}},
		{name: "invalid tracking data", orderID: 1, source: "test", desired: models.PartialOrder{Items: []models.PartialSubOrder{{SubOrderID: 1, TrackingData: json.RawMessage(`{`)}}}},
		{name: "reserved set path", orderID: 1, source: "test", opts: SyncOptions{ExtraSet: map[string]any{"order_status": "X"}}},
		{name: "reserved push path", orderID: 1, source: "test", opts: SyncOptions{ExtraPush: map[string]any{"status_history": "X"}}},
		{name: "empty path segment", orderID: 1, source: "test", opts: SyncOptions{ExtraSet: map[string]any{"shipment..carrier": "X"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Sync(ctx, tt.orderID, tt.desired, tt.source, tt.opts)
			require.Error(t, err)
			assert.True(t, apperror.IsMalformedState(err))
		})
	}
}

func TestOrderSync_PushOntoScalarIsMalformed(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()

	_, err := svc.Sync(ctx, 16, models.PartialOrder{OrderStatus: models.StringPtr("Created"), Fields: map[string]any{"returns": "none"}}, "create", SyncOptions{})
	require.NoError(t, err)
	before, _ := store.Raw(16)

	_, err = svc.Sync(ctx, 16, models.PartialOrder{OrderStatus: models.StringPtr("Returned")}, "return", SyncOptions{ExtraPush: map[string]any{"returns": "note"}})
	require.Error(t, err)
	assert.True(t, apperror.IsMalformedState(err))

	after, _ := store.Raw(16)
	assert.Equal(t, before, after)
}

func TestOrderSync_ConcurrentSyncsLoseNoHistory(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()

	_, err := svc.Sync(ctx, 77, models.PartialOrder{OrderStatus: models.StringPtr("s-0")}, "create", SyncOptions{})
	require.NoError(t, err)

	const workers = 25
	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Sync(ctx, 77, models.PartialOrder{OrderStatus: models.StringPtr(fmt.Sprintf("s-%d", i))}, "worker", SyncOptions{
				ExtraPush: map[string]any{"events": i},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	order := mustFind(t, store, 77)
	assert.Len(t, order.StatusHistory, workers+1)
	assert.Len(t, order.Extra["events"], workers)
	for i := 1; i < len(order.StatusHistory); i++ {
		assert.Equal(t, order.StatusHistory[i-1].NewStatus, *order.StatusHistory[i].OldStatus)
	}
}

// racingStore имитирует запись другого процесса между чтением и заменой.
type racingStore struct {
	*repository.MemoryOrderStore
	races int
	hook  func()
}

func (s *racingStore) ReplaceOne(ctx context.Context, order *models.Order) (repository.ReplaceResult, error) {
	if s.races > 0 {
		s.races--
		s.hook()
	}
	return s.MemoryOrderStore.ReplaceOne(ctx, order)
}

func TestOrderSync_RetriesOnRevisionConflict(t *testing.T) {
	mem := repository.NewMemoryOrderStore()
	store := &racingStore{MemoryOrderStore: mem, races: 1}
	svc := NewOrderSyncService(store, nil, 3)
	svc.SetClock(newStepClock().Now)
	ctx := context.Background()

	_, err := svc.Sync(ctx, 88, models.PartialOrder{OrderStatus: models.StringPtr("Created")}, "create", SyncOptions{})
	require.NoError(t, err)

	store.hook = func() {
		other, err := mem.FindOne(ctx, 88)
		require.NoError(t, err)
		other.AppendStatus("Confirmed", "other-process", time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC))
		res, err := mem.ReplaceOne(ctx, other)
		require.NoError(t, err)
		require.True(t, res.Matched)
	}

	result, err := svc.Sync(ctx, 88, models.PartialOrder{OrderStatus: models.StringPtr("Shipped")}, "ship", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionUpdated, result.Action)
	assert.Equal(t, "Confirmed", result.Changes[0].Old)

	order := mustFind(t, mem, 88)
	require.Len(t, order.StatusHistory, 3)
	assert.Equal(t, "other-process", order.StatusHistory[1].Source)
	assert.Equal(t, "Shipped", order.StatusHistory[2].NewStatus)
}

func TestOrderSync_ConflictAfterRetriesExhausted(t *testing.T) {
	mem := repository.NewMemoryOrderStore()
	store := &racingStore{MemoryOrderStore: mem, races: 100}
	svc := NewOrderSyncService(store, nil, 2)
	svc.SetClock(newStepClock().Now)
	ctx := context.Background()

	_, err := svc.Sync(ctx, 89, models.PartialOrder{OrderStatus: models.StringPtr("Created")}, "create", SyncOptions{})
	require.NoError(t, err)

	counter := 0
	store.hook = func() {
		counter++
		other, err := mem.FindOne(ctx, 89)
		require.NoError(t, err)
		other.AppendStatus(fmt.Sprintf("other-%d", counter), "other-process", time.Now().UTC())
		_, err = mem.ReplaceOne(ctx, other)
		require.NoError(t, err)
	}

	_, err = svc.Sync(ctx, 89, models.PartialOrder{OrderStatus: models.StringPtr("Shipped")}, "ship", SyncOptions{})
	require.Error(t, err)
	assert.True(t, apperror.IsConflict(err))
	assert.Equal(t, 3, counter)
}

type mockOrderStore struct {
	mock.Mock
}

func (m *mockOrderStore) FindOne(ctx context.Context, orderID int64) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderStore) InsertOne(ctx context.Context, order *models.Order) (int64, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOrderStore) ReplaceOne(ctx context.Context, order *models.Order) (repository.ReplaceResult, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(repository.ReplaceResult), args.Error(1)
}

func (m *mockOrderStore) List(ctx context.Context, filter repository.OrderFilter) ([]models.Order, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]models.Order), args.Int(1), args.Error(2)
}

func (m *mockOrderStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestOrderSync_StorageUnavailable(t *testing.T) {
	outage := errors.New("connection refused")

	t.Run("read", func(t *testing.T) {
		store := new(mockOrderStore)
		store.On("FindOne", mock.Anything, int64(1)).Return(nil, outage)
		svc := NewOrderSyncService(store, nil, 3)

		_, err := svc.Sync(context.Background(), 1, models.PartialOrder{}, "test", SyncOptions{})
		require.Error(t, err)
		assert.True(t, apperror.IsStorageUnavailable(err))
		assert.ErrorIs(t, err, outage)
		store.AssertExpectations(t)
	})

	t.Run("insert", func(t *testing.T) {
		store := new(mockOrderStore)
		store.On("FindOne", mock.Anything, int64(2)).Return(nil, repository.ErrOrderNotFound)
		store.On("InsertOne", mock.Anything, mock.AnythingOfType("*models.Order")).Return(int64(0), outage)
		svc := NewOrderSyncService(store, nil, 3)

		_, err := svc.Sync(context.Background(), 2, models.PartialOrder{OrderStatus: models.StringPtr("Created")}, "test", SyncOptions{})
		require.Error(t, err)
		assert.True(t, apperror.IsStorageUnavailable(err))
		store.AssertNumberOfCalls(t, "InsertOne", 1)
	})

	t.Run("replace", func(t *testing.T) {
		stored := &models.Order{
			OrderID:       3,
			OrderStatus:   "Created",
			StatusHistory: []models.StatusChange{models.InitialStatusChange("Created", "created-by-test", time.Now().UTC())},
			StorageID:     1,
			Revision:      1,
		}
		store := new(mockOrderStore)
		store.On("FindOne", mock.Anything, int64(3)).Return(stored, nil)
		store.On("ReplaceOne", mock.Anything, mock.AnythingOfType("*models.Order")).Return(repository.ReplaceResult{}, outage)
		svc := NewOrderSyncService(store, nil, 3)

		_, err := svc.Sync(context.Background(), 3, models.PartialOrder{OrderStatus: models.StringPtr("Shipped")}, "test", SyncOptions{})
		require.Error(t, err)
		assert.True(t, apperror.IsStorageUnavailable(err))
		assert.Equal(t, "Created", stored.OrderStatus)
		assert.Len(t, stored.StatusHistory, 1)
	})
}

func TestOrderSync_InsertRaceFallsBackToUpdate(t *testing.T) {
	existing := &models.Order{
		OrderID:       4,
		OrderStatus:   "Created",
		StatusHistory: []models.StatusChange{models.InitialStatusChange("Created", "created-by-other", time.Now().UTC())},
		StorageID:     10,
		Revision:      1,
	}
	store := new(mockOrderStore)
	store.On("FindOne", mock.Anything, int64(4)).Return(nil, repository.ErrOrderNotFound).Once()
	store.On("InsertOne", mock.Anything, mock.Anything).Return(int64(0), repository.ErrOrderAlreadyExists).Once()
	store.On("FindOne", mock.Anything, int64(4)).Return(existing, nil).Once()
	store.On("ReplaceOne", mock.Anything, mock.Anything).Return(repository.ReplaceResult{Matched: true}, nil).Once()
	svc := NewOrderSyncService(store, nil, 3)

	result, err := svc.Sync(context.Background(), 4, models.PartialOrder{OrderStatus: models.StringPtr("Confirmed")}, "test", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionUpdated, result.Action)
	store.AssertExpectations(t)
}

type recordingListener struct {
	mu      sync.Mutex
	results []*models.SyncResult
}

func (l *recordingListener) OrderSynced(_ context.Context, _ *models.Order, result *models.SyncResult, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, result)
}

func TestOrderSync_ListenerNotifiedOnWritesOnly(t *testing.T) {
	svc, _ := newTestSyncService(t)
	listener := &recordingListener{}
	svc.AddListener(listener)
	ctx := context.Background()
	desired := models.PartialOrder{OrderStatus: models.StringPtr("Created")}

	_, err := svc.Sync(ctx, 20, desired, "create", SyncOptions{})
	require.NoError(t, err)
	_, err = svc.Sync(ctx, 20, desired, "again", SyncOptions{})
	require.NoError(t, err)

	require.Len(t, listener.results, 1)
	assert.Equal(t, models.SyncActionInserted, listener.results[0].Action)
	assert.True(t, listener.results[0].StatusChanged())
}

func TestOrderSync_CancelledBeforeWriteLeavesStoreUntouched(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	stored := &models.Order{
		OrderID:       9,
		OrderStatus:   "Created",
		StatusHistory: []models.StatusChange{models.InitialStatusChange("Created", "created-by-test", created)},
		CreatedAt:     created,
		LastUpdated:   created,
		StorageID:     1,
		Revision:      1,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := new(mockOrderStore)
	store.On("FindOne", mock.Anything, int64(9)).Run(func(mock.Arguments) { cancel() }).Return(stored, nil)

	svc := NewOrderSyncService(store, locker.NewKeyedMutex(), 3)
	_, err := svc.Sync(ctx, 9, models.PartialOrder{OrderStatus: models.StringPtr("Shipped")}, "test", SyncOptions{})
	require.Error(t, err)
	assert.True(t, apperror.IsStorageUnavailable(err))
	assert.ErrorIs(t, err, context.Canceled)

	store.AssertNotCalled(t, "ReplaceOne", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestOrderSync_CancelledBeforeInsertCreatesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := new(mockOrderStore)
	store.On("FindOne", mock.Anything, int64(10)).Run(func(mock.Arguments) { cancel() }).Return(nil, repository.ErrOrderNotFound)

	svc := NewOrderSyncService(store, locker.NewKeyedMutex(), 3)
	_, err := svc.Sync(ctx, 10, models.PartialOrder{OrderStatus: models.StringPtr("Created")}, "test", SyncOptions{})
	require.Error(t, err)
	assert.True(t, apperror.IsStorageUnavailable(err))

	store.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestOrderSync_ReorderedTrackingDataIsNoChange(t *testing.T) {
	svc, store := newTestSyncService(t)
	ctx := context.Background()

	_, err := svc.Sync(ctx, 31, models.PartialOrder{
		OrderStatus: models.StringPtr("Shipped"),
		Items: []models.PartialSubOrder{
			{SubOrderID: 1, ItemStatus: models.StringPtr("Shipped"), TrackingData: json.RawMessage(`{"events":[],"carrier":"dhl"}`)},
		},
	}, "logistics-shipments", SyncOptions{})
	require.NoError(t, err)
	before, ok := store.Raw(31)
	require.True(t, ok)

	result, err := svc.Sync(ctx, 31, models.PartialOrder{
		OrderStatus: models.StringPtr("Shipped"),
		Items: []models.PartialSubOrder{
			{SubOrderID: 1, ItemStatus: models.StringPtr("Shipped"), TrackingData: json.RawMessage(`{"carrier":"dhl","events":[]}`)},
		},
	}, "logistics-shipments", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncActionNoChange, result.Action)

	after, ok := store.Raw(31)
	require.True(t, ok)
	assert.Equal(t, before, after)
}
