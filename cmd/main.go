package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/robfig/cron/v3"

	"ticketpool/internal/config"
	"ticketpool/internal/handlers"
	"ticketpool/internal/integrity"
	"ticketpool/internal/services"
	"ticketpool/internal/store"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logging
	defer logger.Init("ticketpool", cfg.Debug, false, io.Discard).Close()

	// 3. Build the digest verifier and the tenant registry
	verifier, err := integrity.NewVerifier(cfg.DigestSecret)
	if err != nil {
		logger.Fatalf("Failed to create verifier: %v", err)
	}
	tenants := services.NewTenants(cfg.DatabasePath, cfg.TenantHosts, func(path string) (*services.TicketService, io.Closer, error) {
		st, err := store.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return services.NewTicketService(st, verifier, cfg.Limits), st, nil
	})

	// 4. Set up the Gin router
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 5. Register public routes (before middleware)
	httpHandler := handlers.NewHTTPHandler(tenants)
	httpHandler.RegisterPublicRoutes(r)

	// 6. Group routes that require tenant identification and apply middleware
	tenantRoutes := r.Group("/")
	tenantRoutes.Use(httpHandler.TenantMiddleware())
	httpHandler.RegisterTenantRoutes(tenantRoutes)

	// 7. Start the background jobs
	c := cron.New()
	if _, err := c.AddFunc("@every 10m", func() {
		if n := tenants.CloseIdle(cfg.TenantIdle); n > 0 {
			logger.Infof("Closed %d idle tenant stores", n)
		}
	}); err != nil {
		logger.Fatalf("Failed to schedule tenant cleanup: %v", err)
	}
	if cfg.ReclaimSchedule != "" {
		if _, err := c.AddFunc(cfg.ReclaimSchedule, func() { reclaimSweep(tenants) }); err != nil {
			logger.Fatalf("Invalid RECLAIM_SCHEDULE %q: %v", cfg.ReclaimSchedule, err)
		}
	}
	c.Start()

	// 8. Run the server until interrupted
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Infof("Server starting on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to run server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	<-c.Stop().Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown: %v", err)
	}
	if err := tenants.CloseAll(); err != nil {
		logger.Errorf("Closing tenant stores: %v", err)
	}
}

// reclaimSweep releases lapsed reservations in every open tenant.
func reclaimSweep(tenants *services.Tenants) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tenants.Each(func(path string, service *services.TicketService) {
		n, err := service.ReclaimLapsed(ctx)
		if err != nil {
			logger.Warningf("Reclaim sweep of %s failed: %v", path, err)
			return
		}
		if n > 0 {
			logger.Infof("Reclaim sweep released %d tickets in %s", n, path)
		}
	})
}
