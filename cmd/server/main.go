package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/order-sync-gateway/internal/config"
	"github.com/ignatzorin/order-sync-gateway/internal/db"
	"github.com/ignatzorin/order-sync-gateway/internal/goroutine"
	httpHandlers "github.com/ignatzorin/order-sync-gateway/internal/http/handlers"
	httpRouter "github.com/ignatzorin/order-sync-gateway/internal/http/router"
	"github.com/ignatzorin/order-sync-gateway/internal/locker"
	"github.com/ignatzorin/order-sync-gateway/internal/logger"
	"github.com/ignatzorin/order-sync-gateway/internal/models"
	"github.com/ignatzorin/order-sync-gateway/internal/repository"
	"github.com/ignatzorin/order-sync-gateway/internal/service"
	"github.com/ignatzorin/order-sync-gateway/internal/storage"
	"github.com/ignatzorin/order-sync-gateway/internal/upstream"
	"github.com/ignatzorin/order-sync-gateway/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	if cfg.IsProduction() {
		logger.Init("info")
	} else {
		logger.Init("debug")
		logger.SetTextFormatter()
	}

	healthChecks := map[string]httpHandlers.Pinger{}

	// Хранилище заказов.
	var store repository.OrderStore
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Log.Warn("main: используется хранилище в памяти, данные не переживут перезапуск")
		store = repository.NewMemoryOrderStore()
	default:
		dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("main: ошибка подключения к базе: %v", err)
		}
		defer safeClose(dbConn)

		if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
			log.Fatalf("main: ошибка миграций: %v", err)
		}
		store = repository.NewPostgresOrderStore(dbConn)
	}
	healthChecks["store"] = store

	// Блокировка заказов на время чтения и записи.
	var orderLocker locker.Locker = locker.NewKeyedMutex()
	if cfg.LockDriver == config.LockDriverRedis {
		redisClient, err := locker.NewRedisClient(ctx, locker.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("main: %v", err)
		}
		defer closeRedis(redisClient)

		redisLocker := locker.NewRedisLocker(redisClient, "", cfg.LockTTL)
		orderLocker = redisLocker
		healthChecks["redis"] = redisLocker
	}

	syncService := service.NewOrderSyncService(store, orderLocker, cfg.SyncMaxRetries)

	// Клиенты API платформ и отправка статусов обратно.
	tokenCache := service.NewCacheService()
	defer tokenCache.Close()

	var (
		pushers           []service.StatusPusher
		marketplaceClient *upstream.Client
	)
	for name, platform := range map[string]config.PlatformConfig{
		models.PlatformMarketplace: cfg.Marketplace,
		models.PlatformLogistics:   cfg.Logistics,
	} {
		if !platform.Configured() {
			logger.Log.WithField("platform", name).Info("main: API платформы не настроен, статусы не отправляются")
			continue
		}
		client := upstream.NewClient(upstream.Options{
			Platform:     name,
			BaseURL:      platform.APIURL,
			ClientID:     platform.ClientID,
			ClientSecret: platform.ClientSecret,
			Cache:        tokenCache,
		})
		pushers = append(pushers, client)
		if name == models.PlatformMarketplace {
			marketplaceClient = client
		}
	}

	pushService := service.NewStatusPushService(pushers, cfg.PushWorkers, cfg.PushQueueSize, cfg.PushMaxRetries)
	pushService.Start(ctx)
	syncService.AddListener(pushService)

	// Вебсокеты.
	hub := ws.NewHub()
	goroutine.SafeGoWithContext(ctx, hub.Run)
	syncService.AddListener(hub)

	documents, err := storage.NewDocumentStorage(cfg.DocumentStoragePath, cfg.MaxDocumentSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить хранилище документов: %v", err)
	}

	// Сервисы оператора.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	authService := service.NewAuthService(cfg.OperatorUsername, cfg.OperatorPasswordHash, tokenManager)
	orderService := service.NewOrderService(store, syncService)

	handlers := httpRouter.Handlers{
		Auth:      httpHandlers.NewAuthHandler(authService),
		Webhooks:  httpHandlers.NewWebhookHandler(syncService, documents),
		Orders:    httpHandlers.NewOrderHandler(orderService),
		Documents: httpHandlers.NewDocumentHandler(documents),
		WS:        httpHandlers.NewWSHandler(hub, cfg.AllowedOrigins),
		Health:    httpHandlers.NewHealthHandler(healthChecks),
	}
	if marketplaceClient != nil {
		reconcile := service.NewReconcileService(marketplaceClient, syncService, 0)
		handlers.Reconcile = httpHandlers.NewReconcileHandler(reconcile)
	}

	engine := httpRouter.SetupRouter(cfg, handlers, tokenManager)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	goroutine.SafeGo(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("main: ошибка остановки http сервера")
		}
	})

	logger.Log.WithFields(logrus.Fields{
		"port":  cfg.HTTPPort,
		"store": cfg.StoreDriver,
		"lock":  cfg.LockDriver,
	}).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}

	// Дожидаемся отправки статусов, уже взятых в работу.
	pushService.Stop()
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		log.Printf("main: ошибка закрытия redis: %v", err)
	}
}
