// Package httpapi exposes the booking service as a JSON API behind TAuth
// session cookies.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/internal/calendar"
	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Option customizes NewHandler.
type Option func(*handlerOptions)

type handlerOptions struct {
	bucket  tokenBucket
	metrics http.Handler
}

// WithMetrics serves handler on GET /metrics outside the session group.
func WithMetrics(handler http.Handler) Option {
	return func(options *handlerOptions) {
		options.metrics = handler
	}
}

// WithRedis enables rate limiting backed by the given Redis client.
func WithRedis(client redis.Scripter, config RateLimitConfig) Option {
	return func(options *handlerOptions) {
		if client != nil {
			options.bucket = newRedisBucket(client, config)
		}
	}
}

func withBucket(bucket tokenBucket) Option {
	return func(options *handlerOptions) {
		options.bucket = bucket
	}
}

// NewHandler builds the gin router serving the reservation API.
func NewHandler(cfg Config, service *booking.Service, logger *zap.Logger, options ...Option) (http.Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("httpapi: booking service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	settings := handlerOptions{}
	for _, option := range options {
		option(&settings)
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	exporter, err := calendar.NewExporter(cfg.CalendarVenue, service.Location())
	if err != nil {
		return nil, err
	}
	handler := &httpHandler{
		logger:   logger,
		service:  service,
		calendar: exporter,
		now:      time.Now,
		cfg:      cfg,
	}
	return setupRouter(cfg, handler, validator, settings), nil
}

// Run serves handler on cfg.ListenAddr until ctx is cancelled.
func Run(ctx context.Context, cfg Config, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator, settings handlerOptions) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if settings.metrics != nil {
		router.GET("/metrics", gin.WrapH(settings.metrics))
	}

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(contextKeyAuthClaims))
	if cfg.RateLimit.Enabled && settings.bucket != nil {
		api.Use(rateLimitMiddleware(settings.bucket, cfg.RateLimit, handler.logger))
	}
	api.Use(requestTimeout(cfg.RequestTimeout))

	api.GET("/session", handler.handleSession)
	api.GET("/resources", handler.handleListResources)
	api.PUT("/resources/:id", handler.handlePutResource)
	api.GET("/availability", handler.handleAvailability)
	api.GET("/reservations", handler.handleListReservations)
	api.POST("/reservations", handler.handleCreateReservation)
	api.GET("/reservations/current", handler.handleCurrentReservation)
	api.POST("/reservations/current/activate", handler.handleActivateCurrent)
	api.GET("/reservations/:id", handler.handleGetReservation)
	api.PATCH("/reservations/:id", handler.handleUpdateReservation)
	api.DELETE("/reservations/:id", handler.handleCancelReservation)
	api.POST("/reservations/:id/activate", handler.handleActivate)
	api.GET("/reservations/:id/calendar", handler.handleReservationCalendar)
	api.GET("/stats", handler.handleStatistics)
	api.POST("/holders/me/token", handler.handleRotateToken)
	api.PUT("/holders/me/telegram", handler.handleLinkTelegram)
	api.PUT("/holders/:id", handler.handlePutHolder)

	return router
}

func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), timeout)
		defer cancel()
		ctx.Request = ctx.Request.WithContext(requestCtx)
		ctx.Next()
	}
}

type httpHandler struct {
	logger   *zap.Logger
	service  *booking.Service
	calendar *calendar.Exporter
	now      func() time.Time
	cfg      Config
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(contextKeyAuthClaims)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

// resolveActor maps the session to a booking actor. Session users without a
// holder record act as guests.
func (handler *httpHandler) resolveActor(ctx *gin.Context) (booking.Actor, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorUnauthorized, messageMissingSession))
		return booking.Actor{}, false
	}
	holderID, err := booking.NewHolderID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorUnauthorized, messageMissingSession))
		return booking.Actor{}, false
	}
	actor := booking.Actor{HolderID: holderID, Role: booking.RoleGuest}
	holder, err := handler.service.GetHolder(ctx.Request.Context(), actor, holderID)
	switch {
	case errors.Is(err, booking.ErrUnknownHolder):
		return actor, true
	case err != nil:
		handler.respondError(ctx, err)
		return booking.Actor{}, false
	}
	actor.Role = holder.Role
	return actor, true
}
