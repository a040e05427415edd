package middleware

import (
	"net/http"
	"time"

	"market-forecast/internal/dto"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// NewRateLimiterMiddleware limits each client IP to 5 requests per second with a burst of 20.
func NewRateLimiterMiddleware() echo.MiddlewareFunc {
	return NewRateLimiterMiddlewareWithRate(rate.Limit(5), 20)
}

func NewRateLimiterMiddlewareWithRate(limit rate.Limit, burst int) echo.MiddlewareFunc {
	config := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      limit,
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			},
		),

		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},

		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, dto.NewBaseResponse(http.StatusForbidden, "Access forbidden: Rate limiter error occurred", nil))
		},

		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, dto.NewBaseResponse(http.StatusTooManyRequests, "Too many requests: Rate limit exceeded", nil))
		},
	}

	return middleware.RateLimiterWithConfig(config)
}
