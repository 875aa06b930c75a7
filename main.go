package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"signalement-service/config"
	"signalement-service/connectivity"
	"signalement-service/database"
	"signalement-service/handlers"
	"signalement-service/middleware"
	"signalement-service/realtime"
	"signalement-service/recordstore"
	"signalement-service/services"
	"signalement-service/utils"
	"signalement-service/version"
	ws "signalement-service/websocket"

	"github.com/apex/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

const (
	EndPointHealth            = "/health"
	EndPointLogin             = "/auth/login"
	EndPointLogout            = "/auth/logout"
	EndPointProfile           = "/auth/profile"
	EndPointReports           = "/signalements"
	EndPointReport            = "/signalements/:id"
	EndPointReportHistory     = "/signalements/:id/historique"
	EndPointStatistics        = "/statistiques"
	EndPointExport            = "/signalements-export"
	EndPointUsers             = "/utilisateurs"
	EndPointCompanies         = "/entreprises"
	EndPointSyncManual        = "/sync/manual"
	EndPointSyncStatus        = "/sync/status"
	EndPointSyncHistory       = "/sync/history"
	EndPointCheckConnectivity = "/sync/check-connectivity"
	EndPointLive              = "/live"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Info("Starting the signalement service...")

	// Connect to the local state database
	db, err := utils.DBConnect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize database schema
	if err := database.InitSchema(db); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	// Initialize services
	state := database.NewService(db)
	replica := realtime.NewClient(cfg.ReplicaDBURL, cfg.ReplicaDBSecret)
	records := recordstore.NewClient(cfg.RecordAPIURL, state)
	prober := connectivity.NewProber()

	accessor := services.NewAccessor(replica, records, prober)
	syncer := services.NewSyncer(replica, records, prober, state, cfg.SyncLeaseTTL)

	// Live feed fan-out
	hub := ws.NewHub()
	go hub.Run()

	feedCtx, cancelFeed := context.WithCancel(context.Background())
	defer cancelFeed()
	feed := services.NewFeed(accessor, hub)
	go feed.Run(feedCtx)

	// Initialize handlers
	reportsHandler := handlers.NewReportsHandler(accessor, records)
	authHandler := handlers.NewAuthHandler(records, state)
	syncHandler := handlers.NewSyncHandler(syncer, prober, state)
	wsHandler := handlers.NewWebSocketHandler(hub)

	// Setup router
	router := gin.Default()
	if len(cfg.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.Fatalf("Invalid TRUSTED_PROXIES configuration: %v", err)
		}
	}

	// The websocket upgrade cannot go through the gzip writer.
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v3" + EndPointLive})))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())

	router.GET("/version", func(c *gin.Context) {
		c.JSON(200, version.Get("signalement-service"))
	})

	// Register health endpoint (outside API group)
	router.GET(EndPointHealth, reportsHandler.HealthCheck)

	auth := middleware.AuthMiddleware([]byte(cfg.JWTSecret))

	// Create API v3 router group
	apiV3 := router.Group("/api/v3")
	apiV3.Use(middleware.RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	{
		apiV3.POST(EndPointLogin, authHandler.Login)
		apiV3.POST(EndPointLogout, auth, authHandler.Logout)
		apiV3.GET(EndPointProfile, auth, authHandler.Profile)

		apiV3.GET(EndPointReports, reportsHandler.ListReports)
		apiV3.GET(EndPointReport, reportsHandler.GetReport)
		apiV3.POST(EndPointReports, auth, reportsHandler.CreateReport)
		apiV3.PUT(EndPointReport, auth, reportsHandler.UpdateReport)
		apiV3.DELETE(EndPointReport, auth, middleware.RequireRole("MANAGER"), reportsHandler.DeleteReport)
		apiV3.GET(EndPointReportHistory, reportsHandler.History)
		apiV3.GET(EndPointStatistics, reportsHandler.Statistics)
		apiV3.GET(EndPointExport, reportsHandler.ExportGeoJSON)

		apiV3.GET(EndPointUsers, auth, reportsHandler.ListUsers)
		apiV3.GET(EndPointCompanies, reportsHandler.ListCompanies)

		apiV3.POST(EndPointSyncManual, auth, middleware.RequireRole("MANAGER"), syncHandler.TriggerSync)
		apiV3.GET(EndPointSyncStatus, syncHandler.SyncStatus)
		apiV3.GET(EndPointSyncHistory, auth, syncHandler.SyncHistory)
		apiV3.GET(EndPointCheckConnectivity, syncHandler.CheckConnectivity)

		apiV3.GET(EndPointLive, wsHandler.Live)
	}

	// Get server port from config
	serverPort, err := strconv.Atoi(cfg.Port)
	if err != nil {
		log.Fatalf("Invalid PORT configuration: %v", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", serverPort),
		Handler: router,
	}

	go func() {
		log.Infof("Signalement service starting on port %d", serverPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancelFeed()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
