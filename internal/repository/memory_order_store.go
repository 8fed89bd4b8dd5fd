package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ignatzorin/order-sync-gateway/internal/models"
)

type memoryRecord struct {
	storageID int64
	revision  int64
	document  []byte
}

// MemoryOrderStore - хранилище в памяти процесса для разработки и тестов.
// Документы хранятся сериализованными, поэтому вызывающий код никогда не получает общий указатель.
type MemoryOrderStore struct {
	mu      sync.RWMutex
	records map[int64]*memoryRecord
	nextID  int64
}

// NewMemoryOrderStore создаёт пустое хранилище.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{records: make(map[int64]*memoryRecord)}
}

func (s *MemoryOrderStore) FindOne(ctx context.Context, orderID int64) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rec, ok := s.records[orderID]
	var snapshot memoryRecord
	if ok {
		snapshot = *rec
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	return decodeRecord(snapshot)
}

func (s *MemoryOrderStore) InsertOne(ctx context.Context, order *models.Order) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	doc, err := json.Marshal(order)
	if err != nil {
		return 0, fmt.Errorf("memory store: encode document %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[order.OrderID]; exists {
		return 0, ErrOrderAlreadyExists
	}
	s.nextID++
	s.records[order.OrderID] = &memoryRecord{storageID: s.nextID, revision: 1, document: doc}

	order.StorageID = s.nextID
	order.Revision = 1
	return s.nextID, nil
}

func (s *MemoryOrderStore) ReplaceOne(ctx context.Context, order *models.Order) (ReplaceResult, error) {
	if err := ctx.Err(); err != nil {
		return ReplaceResult{}, err
	}
	doc, err := json.Marshal(order)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("memory store: encode document %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[order.OrderID]
	if !ok || rec.storageID != order.StorageID || rec.revision != order.Revision {
		return ReplaceResult{Matched: false}, nil
	}
	rec.document = doc
	rec.revision++
	order.Revision = rec.revision
	return ReplaceResult{Matched: true}, nil
}

func (s *MemoryOrderStore) List(ctx context.Context, filter OrderFilter) ([]models.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	matched := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		order, err := s.FindOne(ctx, id)
		if err != nil {
			continue
		}
		if filter.Status != "" && order.OrderStatus != filter.Status {
			continue
		}
		matched = append(matched, *order)
	}

	total := len(matched)
	if filter.Offset >= total {
		return []models.Order{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func (s *MemoryOrderStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Raw возвращает сохранённый документ как есть.
func (s *MemoryOrderStore) Raw(orderID int64) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[orderID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), rec.document...), true
}

func decodeRecord(rec memoryRecord) (*models.Order, error) {
	var order models.Order
	if err := json.Unmarshal(rec.document, &order); err != nil {
		return nil, fmt.Errorf("memory store: decode document %w", err)
	}
	order.StorageID = rec.storageID
	order.Revision = rec.revision
	return &order, nil
}
