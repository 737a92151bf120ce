// Package http wires the OAuth endpoints, the bearer-guarded MCP
// handler and operational endpoints into one echo server.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/neron/internal/logging"
	"github.com/fyrsmithlabs/neron/internal/oauth"
)

// Pinger reports backend connectivity for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RegisterRatePerMinute bounds per-IP calls to /register.
	RegisterRatePerMinute int
	// TokenRatePerMinute bounds per-IP calls to /token.
	TokenRatePerMinute int
	// EnableMetrics mounts /metrics when true.
	EnableMetrics bool
}

// Server is the HTTP front of the service.
type Server struct {
	echo   *echo.Echo
	logger *logging.Logger
	config Config
}

// NewServer assembles middleware and routes.
func NewServer(broker *oauth.Broker, mcpHandler http.Handler, store Pinger, logger *logging.Logger, cfg Config) (*Server, error) {
	if broker == nil {
		return nil, fmt.Errorf("oauth broker is required")
	}
	if mcpHandler == nil {
		return nil, fmt.Errorf("mcp handler is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, "Mcp-Session-Id", "Mcp-Protocol-Version"},
	}))
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics().MetricsMiddleware())

	s := &Server{
		echo:   e,
		logger: logger.Named("http"),
		config: cfg,
	}

	// OAuth surface. Registration and token issuance get per-IP limits.
	broker.RegisterRoutes(e, oauth.RouteMiddleware{
		Register: []echo.MiddlewareFunc{rateLimit(cfg.RegisterRatePerMinute)},
		Token:    []echo.MiddlewareFunc{rateLimit(cfg.TokenRatePerMinute)},
	})

	// The MCP streamable handler manages its own methods and sessions.
	e.Any("/mcp", echo.WrapHandler(mcpHandler))

	e.GET("/health", s.healthHandler(store))
	if cfg.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	return s, nil
}

// rateLimit builds a per-IP limiter middleware from a per-minute budget.
func rateLimit(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		perMinute = 60
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(perMinute) / 60.0),
			Burst:     perMinute,
			ExpiresIn: 3 * time.Minute,
		}),
	})
}

// requestLogger emits one line per request and threads the request ID
// into the logging context.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// The RequestID middleware reuses an inbound X-Request-Id,
			// so the value is client-controlled. WithRequestID panics on
			// malformed IDs; hostile values are dropped here instead.
			if id := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidID(id) {
				ctx := logging.WithRequestID(c.Request().Context(), id)
				c.SetRequest(c.Request().WithContext(ctx))
			}

			err := next(c)

			ctx := c.Request().Context()
			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			if c.Response().Status == http.StatusUnauthorized {
				// Auth failures carry the remote address for auditing;
				// the presented token itself is never logged.
				fields = append(fields, zap.String("remote_ip", c.RealIP()))
				logger.Warn(ctx, "request rejected", fields...)
			} else {
				logger.Info(ctx, "http request", fields...)
			}
			return err
		}
	}
}

func (s *Server) healthHandler(store Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if store != nil {
			if err := store.Ping(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Start begins serving. Blocks until shutdown or listen failure.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "http server starting", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
