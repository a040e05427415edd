package http

import (
	"context"

	"market-forecast/internal/service"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/middleware"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HttpAPIHandler exposes metrics and manual job control for the running scheduler.
type HttpAPIHandler struct {
	ctx      context.Context
	echo     *echo.Echo
	log      *logger.Logger
	gatherer prometheus.Gatherer
	service  *service.Service
}

func NewHttpAPIHandler(ctx context.Context, echo *echo.Echo, log *logger.Logger, gatherer prometheus.Gatherer, service *service.Service) *HttpAPIHandler {
	return &HttpAPIHandler{
		ctx:      ctx,
		echo:     echo,
		log:      log,
		gatherer: gatherer,
		service:  service,
	}
}

func (h *HttpAPIHandler) SetupRoutes() {
	h.echo.Use(echoMiddleware.Recover())
	h.echo.Use(middleware.NewRateLimiterMiddleware())

	h.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	h.echo.GET("/healthz", h.health)

	base := h.echo.Group("/api")
	h.SetupJobs(base)
}
