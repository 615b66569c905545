package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/s100-analytics/backend/internal/api"
	"github.com/s100-analytics/backend/internal/config"
	"github.com/s100-analytics/backend/internal/equipment"
	"github.com/s100-analytics/backend/internal/ingest"
	"github.com/s100-analytics/backend/internal/metrics"
	"github.com/s100-analytics/backend/internal/scheduler"
	"github.com/s100-analytics/backend/internal/store"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "LogAnalytics.exe.config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Load the equipment roster
	registry, err := equipment.Load(cfg.Storage.EquipmentRoster)
	if err != nil {
		fmt.Printf("Failed to load equipment roster: %v\n", err)
		os.Exit(1)
	}

	// Initialize storage
	db, err := store.NewDuckStore(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	loc := cfg.Location()
	engine := ingest.NewEngine(db, loc)
	aggregator := metrics.NewAggregator(db)

	// Start the nightly ingest/aggregate job
	if cfg.Ingest.EnableScheduler {
		nightly := scheduler.NewNightly(engine, aggregator, registry, loc, cfg.Ingest.ScheduleHour)
		nightly.Start()
		defer nightly.Stop()
	}

	h := api.NewHandler(db, engine, aggregator, registry, cfg.Ingest.HistoryDirName, loc)

	e := echo.New()
	e.HTTPErrorHandler = api.ErrorHandler

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			return c.Request().URL.Path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
		LogLevel:          0,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			// Ingestion and report export can legitimately run long
			path := c.Request().URL.Path
			return strings.Contains(path, "/ingest") ||
				strings.Contains(path, "/reports")
		},
		ErrorMessage: "Request timeout - query took too long",
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			// XLSX downloads are already deflate-compressed
			return strings.Contains(c.Request().URL.Path, "/reports/")
		},
	}))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "X-Token"},
		}))
	}

	api.RegisterRoutes(e, h, cfg.Security.APIToken)

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Equipment Log Analytics Server                  ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Database:  %-46s║\n", cfg.Storage.DatabasePath)
	fmt.Printf("║  Equipment: %-46d║\n", len(registry.Equipment))
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	e.Logger.Fatal(e.StartServer(s))
}
