package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ignatzorin/order-sync-gateway/internal/goroutine"
	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/models"
)

// EventOrderSynced - событие об успешной записи заказа.
const EventOrderSynced = "order.synced"

// OrderSyncedEvent - полезная нагрузка события order.synced.
type OrderSyncedEvent struct {
	OrderID     int64                `json:"order_id"`
	OrderStatus string               `json:"order_status"`
	Action      models.SyncAction    `json:"action"`
	Source      string               `json:"source"`
	Changes     []models.FieldChange `json:"changes"`
}

// Hub управляет подключениями операторов и рассылает им события.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
}

// NewHub создаёт новый хаб.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

// Run запускает главный цикл хаба до отмены контекста.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case payload := <-h.broadcast:
			h.send(payload)
		}
	}
}

// Register добавляет клиента. После остановки хаба возвращает false.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount возвращает число подключённых клиентов.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast отправляет событие всем операторам. Если очередь заполнена, событие теряется.
func (h *Hub) Broadcast(event string, data any) error {
	// Контракт сообщения: "type" - имя события, "data" - полезная нагрузка.
	raw, err := json.Marshal(map[string]any{
		"type": event,
		"data": data,
	})
	if err != nil {
		return fmt.Errorf("ws: не удалось сериализовать сообщение: %w", err)
	}

	select {
	case h.broadcast <- raw:
	default:
		logger.Log.WithField("event", event).Warn("Очередь websocket переполнена, событие пропущено")
	}
	return nil
}

// OrderSynced рассылает событие о записи заказа.
func (h *Hub) OrderSynced(_ context.Context, order *models.Order, result *models.SyncResult, source string) {
	event := OrderSyncedEvent{
		OrderID:     order.OrderID,
		OrderStatus: order.OrderStatus,
		Action:      result.Action,
		Source:      source,
		Changes:     result.Changes,
	}
	if err := h.Broadcast(EventOrderSynced, event); err != nil {
		logger.WithOrder(order.OrderID, source).WithError(err).Warn("Не удалось разослать событие")
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	logger.Log.WithField("username", client.username).Debug("Оператор подключился к websocket")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) send(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Медленный клиент отключается.
			c := client
			goroutine.SafeGo(c.Close)
		}
	}
}
