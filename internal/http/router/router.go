package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/order-sync-gateway/internal/config"
	"github.com/ignatzorin/order-sync-gateway/internal/http/handlers"
	"github.com/ignatzorin/order-sync-gateway/internal/http/middleware"
	"github.com/ignatzorin/order-sync-gateway/internal/service"
)

// Handlers - набор HTTP хэндлеров приложения. Reconcile и Documents необязательны.
type Handlers struct {
	Auth      *handlers.AuthHandler
	Webhooks  *handlers.WebhookHandler
	Orders    *handlers.OrderHandler
	Documents *handlers.DocumentHandler
	Reconcile *handlers.ReconcileHandler
	WS        *handlers.WSHandler
	Health    *handlers.HealthHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)

	// Вебхуки платформ: подпись проверяется секретом каждой платформы.
	maxBody := (cfg.MaxDocumentSizeMB + 1) << 20
	hooks := r.Group("/webhooks")
	hooks.Use(middleware.RateLimitMiddleware("webhooks", cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		marketplace := middleware.WebhookSignature("marketplace", cfg.Marketplace.WebhookSecret, maxBody)
		logistics := middleware.WebhookSignature("logistics", cfg.Logistics.WebhookSecret, maxBody)

		hooks.POST("/marketplace/orders", marketplace, h.Webhooks.MarketplaceOrders)
		hooks.POST("/marketplace/returns", marketplace, h.Webhooks.MarketplaceReturns)
		hooks.POST("/logistics/shipments", logistics, h.Webhooks.LogisticsShipments)
	}

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware("login", 5, cfg.RateLimitPeriod))
	{
		authGroup.POST("/login", h.Auth.Login)
	}

	// Защищённые маршруты оператора
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.GET("/ws", h.WS.Handle)

		protected.GET("/orders", h.Orders.ListOrders)
		protected.GET("/orders/:id", middleware.OrderIDValidator("id"), h.Orders.GetOrder)
		protected.GET("/orders/:id/history", middleware.OrderIDValidator("id"), h.Orders.GetHistory)
		protected.POST("/orders/:id/status", middleware.OrderIDValidator("id"), h.Orders.OverrideStatus)

		if h.Documents != nil {
			protected.GET("/orders/:id/documents/:name", middleware.OrderIDValidator("id"), h.Documents.Download)
		}
		if h.Reconcile != nil {
			protected.POST("/admin/reconcile", h.Reconcile.Reconcile)
		}
	}

	return r
}
