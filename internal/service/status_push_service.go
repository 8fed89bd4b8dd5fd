package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/order-sync-gateway/internal/goroutine"
	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/models"
)

// ErrPushQueueFull - очередь отправки переполнена, задание отброшено.
var ErrPushQueueFull = errors.New("status push: очередь переполнена")

// StatusPusher - API платформы, принимающее статусы заказов.
type StatusPusher interface {
	Platform() string
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	UpdateItemStatus(ctx context.Context, orderID, subOrderID int64, status string) error
}

// PushJob - одно изменение статуса для одной платформы.
// SubOrderID == 0 означает статус заказа.
type PushJob struct {
	ID         string
	Platform   string
	OrderID    int64
	SubOrderID int64
	Status     string
}

// StatusPushService асинхронно отправляет изменения статусов на платформы.
// Ошибки отправки не откатывают локальную синхронизацию.
// У каждого воркера своя очередь, и задания одного заказа всегда попадают в одну
// и ту же: платформа получает статусы заказа в порядке синхронизаций.
type StatusPushService struct {
	pushers    map[string]StatusPusher
	queues     []chan PushJob
	maxRetries int
	retryDelay time.Duration

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewStatusPushService создаёт сервис. Воркеры запускаются через Start.
func NewStatusPushService(pushers []StatusPusher, workers, queueSize, maxRetries int) *StatusPushService {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	byPlatform := make(map[string]StatusPusher, len(pushers))
	for _, p := range pushers {
		byPlatform[p.Platform()] = p
	}

	perWorker := (queueSize + workers - 1) / workers
	queues := make([]chan PushJob, workers)
	for i := range queues {
		queues[i] = make(chan PushJob, perWorker)
	}

	return &StatusPushService{
		pushers:    byPlatform,
		queues:     queues,
		maxRetries: maxRetries,
		retryDelay: time.Second,
	}
}

// Start запускает воркеры. Они завершаются после Stop, дочитав очередь.
func (s *StatusPushService) Start(ctx context.Context) {
	for _, queue := range s.queues {
		goroutine.SafeGoGroup(&s.wg, func() {
			for job := range queue {
				s.process(ctx, job)
			}
		})
	}
}

// Stop закрывает очередь и ждёт завершения воркеров.
func (s *StatusPushService) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		for _, queue := range s.queues {
			close(queue)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// OrderSynced ставит в очередь изменения статусов. Платформа-источник изменения
// свой же статус обратно не получает.
func (s *StatusPushService) OrderSynced(_ context.Context, order *models.Order, result *models.SyncResult, source string) {
	if !result.StatusChanged() {
		return
	}
	origin := models.OriginPlatform(source)

	for _, change := range result.Changes {
		status, ok := change.New.(string)
		if !ok {
			continue
		}

		job := PushJob{OrderID: order.OrderID, Status: status}
		if subOrderID, isItem := models.ParseItemStatusField(change.Field); isItem {
			job.SubOrderID = subOrderID
		} else if change.Field != models.FieldOrderStatus {
			continue
		}

		for platform := range s.pushers {
			if platform == origin {
				continue
			}
			job.ID = uuid.NewString()
			job.Platform = platform
			if err := s.Enqueue(job); err != nil {
				logger.Log.WithFields(jobFields(job)).Warn("Задание отправки статуса отброшено: очередь переполнена")
			}
		}
	}
}

// Enqueue добавляет задание без блокировки.
func (s *StatusPushService) Enqueue(job PushJob) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrPushQueueFull
	}

	select {
	case s.queueFor(job.OrderID) <- job:
		return nil
	default:
		return ErrPushQueueFull
	}
}

func (s *StatusPushService) queueFor(orderID int64) chan PushJob {
	return s.queues[uint64(orderID)%uint64(len(s.queues))]
}

func (s *StatusPushService) process(ctx context.Context, job PushJob) {
	pusher, ok := s.pushers[job.Platform]
	if !ok {
		return
	}
	log := logger.Log.WithFields(jobFields(job))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryDelay
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		if job.SubOrderID == 0 {
			err = pusher.UpdateOrderStatus(ctx, job.OrderID, job.Status)
		} else {
			err = pusher.UpdateItemStatus(ctx, job.OrderID, job.SubOrderID, job.Status)
		}
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("Не удалось отправить статус")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.maxRetries)), ctx))
	if err != nil {
		log.WithError(err).Error("Статус не отправлен, попытки исчерпаны")
		return
	}
	log.Debug("Статус отправлен на платформу")
}

func jobFields(job PushJob) logrus.Fields {
	return logrus.Fields{
		"job_id":      job.ID,
		"platform":    job.Platform,
		"order_id":    job.OrderID,
		"suborder_id": job.SubOrderID,
		"status":      job.Status,
	}
}
