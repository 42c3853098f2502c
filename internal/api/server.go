package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"catalogsync/internal/api/handlers"
	"catalogsync/internal/api/middleware"
	"catalogsync/internal/app"
	"catalogsync/internal/config"
)

type Server struct {
	config *config.Config
	logger *zap.Logger
	router *gin.Engine
	server *http.Server
}

func New(cfg *config.Config, a *app.App) *Server {
	// Set Gin mode
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(a.Logger))
	router.Use(middleware.Recovery(a.Logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(a.Store, a.Clock)
	productHandler := handlers.NewProductHandler(a.Store, a.Library, a.Publisher, a.Logger)
	syncHandler := handlers.NewSyncHandler(a.Store, a.Ingestor, a.Attacher, a.Scheduler, cfg.Ingest.SourcePath, a.Logger)
	shopifyHandler := handlers.NewShopifyHandler(a.Shopify, cfg.Shopify.WebhookSecret, a.Metrics, a.Logger)

	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	// Routes
	v1 := router.Group("/api/v1")
	{
		// Products
		products := v1.Group("/products")
		{
			products.GET("", productHandler.List)
			products.GET("/stats", productHandler.Stats)
			products.GET("/:id", productHandler.Get)
			products.POST("", productHandler.Create)
			products.PUT("/:id", productHandler.Update)
			products.PATCH("/:id/status", productHandler.UpdateStatus)
			products.PATCH("/:id/publish", productHandler.Publish)
			products.DELETE("/:id", productHandler.Delete)

			products.POST("/:id/images", productHandler.UploadImages)
			products.DELETE("/:id/images/:index", productHandler.DeleteImage)
			products.POST("/:id/images/reorder", productHandler.ReorderImages)
		}

		// Catalog sync
		sync := v1.Group("/sync")
		{
			sync.POST("/ai-output", syncHandler.AIOutput)
			sync.POST("/images", syncHandler.Images)
			sync.POST("/full", syncHandler.Full)
			sync.GET("/status", syncHandler.Status)
			sync.POST("/auto/enable", syncHandler.AutoEnable)
			sync.POST("/auto/disable", syncHandler.AutoDisable)
			sync.GET("/auto/status", syncHandler.AutoStatus)
		}

		// Shopify Integration
		shopify := v1.Group("/shopify")
		{
			shopify.GET("/test", shopifyHandler.Test)
			shopify.POST("/sync-product/:id", shopifyHandler.SyncProduct)
			shopify.POST("/sync-all", shopifyHandler.SyncAll)
			shopify.GET("/products", shopifyHandler.Products)
			shopify.DELETE("/product/:shopify_id", shopifyHandler.Delete)
			shopify.GET("/sync-status", shopifyHandler.SyncStatus)
			shopify.POST("/webhook/product-update", shopifyHandler.Webhook)
		}
	}

	return &Server{
		config: cfg,
		logger: a.Logger,
		router: router,
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.APIHost, s.config.APIPort)

	// Batch endpoints answer synchronously and can take minutes.
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down server")
	return s.server.Shutdown(ctx)
}

// GetRouter returns the Gin router for Vercel
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
