// Package server assembles the Fiber application: global middleware, the
// abuse gates and every route.
package server

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/docspark/api/internal/abuse"
	"github.com/docspark/api/internal/config"
	"github.com/docspark/api/internal/handler"
	"github.com/docspark/api/internal/metrics"
	"github.com/docspark/api/internal/middleware"
	"github.com/docspark/api/internal/service"
	"github.com/docspark/api/internal/storage"
	"github.com/docspark/api/pkg/response"
)

// multipart framing and form fields on top of the file itself
const bodySlack = 1 << 20

type Deps struct {
	Config    *config.Config
	Service   *service.ConversionService
	Files     *storage.Local
	Guard     *abuse.Guard
	Challenge *abuse.ChallengeVerifier
	Validator *validator.Validate
	Logger    *zap.Logger
	// AccessLog enables the per-request access line.
	AccessLog bool
}

func New(deps Deps) *fiber.App {
	cfg := deps.Config
	auditor := abuse.NewAuditor(deps.Logger)

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(cfg.Jobs.MaxUploadBytes, deps.Logger),
		BodyLimit:             int(cfg.Jobs.MaxUploadBytes) + bodySlack,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	if deps.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.CORSOrigins, ","),
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	rateLimiter := middleware.NewRateLimiter(deps.Guard, auditor)
	convertLimit := rateLimiter.ConvertLimit(cfg.RateLimit.ConvertMax, cfg.RateLimit.ConvertWindow)
	readLimit := rateLimiter.ReadLimit(cfg.RateLimit.ReadMax, cfg.RateLimit.ReadWindow)

	convertHandler := handler.NewConvertHandler(handler.ConvertDeps{
		Service:        deps.Service,
		Files:          deps.Files,
		Guard:          deps.Guard,
		Challenge:      deps.Challenge,
		Auditor:        auditor,
		MaxUploadBytes: cfg.Jobs.MaxUploadBytes,
		Logger:         deps.Logger,
	})
	jobsHandler := handler.NewJobsHandler(deps.Service, deps.Logger)
	renderHandler := handler.NewRenderHandler(deps.Service, deps.Validator, deps.Logger)

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api")
	api.Get("/health", handler.Health)

	api.Post("/convert", convertLimit, rateLimiter.ActiveConversions(), convertHandler.Convert)
	api.Post("/html-to-pdf", convertLimit, rateLimiter.ActiveConversions(), renderHandler.HTMLToPDF)

	jobs := api.Group("/jobs", readLimit)
	jobs.Get("/:id", jobsHandler.Status)
	jobs.Get("/:id/download", jobsHandler.Download)
	jobs.Get("/:id/insights", jobsHandler.Insights)
	jobs.Delete("/:id", jobsHandler.Delete)

	return app
}

func errorHandler(maxUploadBytes int64, log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var e *fiber.Error
		if errors.As(err, &e) {
			switch e.Code {
			case fiber.StatusRequestEntityTooLarge:
				return response.PayloadTooLarge(c, handler.TooLargeMessage(maxUploadBytes))
			case fiber.StatusNotFound:
				return response.NotFound(c, "Not found")
			case fiber.StatusMethodNotAllowed:
				return response.Error(c, e.Code, "METHOD_NOT_ALLOWED", e.Message)
			}
			if e.Code < fiber.StatusInternalServerError {
				return response.Error(c, e.Code, response.CodeValidationError, e.Message)
			}
		}
		log.Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err))
		return response.ServiceError(c, "Internal server error")
	}
}
