package handler

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"catalogsync/internal/api"
	"catalogsync/internal/app"
	"catalogsync/internal/config"
	"catalogsync/internal/logger"
)

var (
	initOnce sync.Once
	router   *gin.Engine
	initErr  error
)

// initRouter builds the services once per instance. Serverless instances keep
// a small lib/pq pool and never run the auto-sync scheduler.
func initRouter() {
	cfg, err := config.Load()
	if err != nil {
		initErr = err
		return
	}
	cfg.Env = "production"

	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		initErr = err
		return
	}

	a, err := app.New(context.Background(), cfg, log, app.Options{
		UsePQ:    true,
		Registry: prometheus.NewRegistry(),
	})
	if err != nil {
		initErr = err
		return
	}
	router = api.New(cfg, a).GetRouter()
}

// Handler is the Vercel entry point.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(initRouter)
	if initErr != nil {
		http.Error(w, fmt.Sprintf("Service initialization failed: %v", initErr), http.StatusInternalServerError)
		return
	}

	// Serve the request
	router.ServeHTTP(w, r)
}
