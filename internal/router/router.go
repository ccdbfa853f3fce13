package router

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/handlers"
	"github.com/pvmonitor/pvdash/internal/logging"
	"github.com/pvmonitor/pvdash/internal/middleware"
)

// Setup configures all routes and middlewares
func Setup(app *fiber.App, logger *logging.Logger, cfg *config.Config, deps handlers.Deps) *handlers.Handler {
	h := handlers.New(logger, deps)

	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.CORSAllowList(),
		AllowMethods:  "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID",
		ExposeHeaders: "Content-Disposition,X-Export-Rows,X-Export-Columns",
	}))
	app.Use(middleware.Metrics())
	app.Use(logging.FiberMiddlewareWithConfig(logger, logging.DefaultMiddlewareConfig()))

	// No auth
	app.Get("/health", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api", middleware.APIKeyAuth(logger, cfg.Auth))

	// Explorer
	influx := api.Group("/influxdb")
	influx.Get("/buckets", h.Buckets)
	influx.Post("/fast-filters", h.Catalogue)
	influx.Delete("/catalogue/:bucket", h.InvalidateCatalogue)
	influx.Post("/explore", h.Explore)
	influx.Post("/measurements", h.Measurements)
	influx.Post("/tag-keys", h.TagKeys)
	influx.Post("/tag-values", h.TagValues)
	influx.Post("/field-values", h.FieldValues)
	influx.Post("/universal-values", h.UniversalValues)
	influx.Post("/filter-values", h.FilterValues)
	influx.Post("/query", h.Query)
	influx.Post("/build", h.Build)
	influx.Get("/aggregation-functions", h.AggregationFunctions)

	// Filter sessions
	sessions := api.Group("/filters/sessions")
	sessions.Post("/", h.CreateSession)
	sessions.Get("/:id", h.GetSession)
	sessions.Delete("/:id", h.DeleteSession)
	sessions.Put("/:id/bucket", h.SetSessionBucket)
	sessions.Get("/:id/query", h.SessionQuery)
	sessions.Post("/:id/refresh", h.RefreshSession)
	sessions.Post("/:id/filters", h.AddFilter)
	sessions.Delete("/:id/filters/:fid", h.RemoveFilter)
	sessions.Put("/:id/filters/:fid/key", h.UpdateFilterKey)
	sessions.Get("/:id/filters/:fid/keys", h.FilterKeys)
	sessions.Put("/:id/filters/:fid/values", h.SetFilterValues)
	sessions.Post("/:id/filters/:fid/toggle", h.ToggleFilterValue)
	sessions.Put("/:id/filters/:fid/range", h.SetFilterRange)
	sessions.Post("/:id/filters/:fid/refresh", h.RefreshFilter)

	// Dashboard
	api.Get("/timeseries-data", h.Timeseries)
	api.Get("/plants-data", h.PlantsData)
	api.Get("/map-data", h.MapData)
	api.Get("/monthly-production-data", h.MonthlyProduction)
	api.Get("/alarms-data", h.Alarms)
	api.Get("/grafana-alarms", h.GrafanaAlarms)

	api.Post("/export", h.Export)

	// 404 handler
	app.Use(h.NotFound)

	return h
}

// New creates a new Fiber app with configuration
func New(logger *logging.Logger, cfg *config.Config, deps handlers.Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "PV Dashboard API",
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	Setup(app, logger, cfg, deps)

	return app
}
