// Package handlers exposes the restaurant services over HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/auth"
	"restaurant_ops/pkg/inventory"
	"restaurant_ops/pkg/logger"
	"restaurant_ops/pkg/metrics"
	"restaurant_ops/pkg/recipe"
	"restaurant_ops/pkg/reservation"
	"restaurant_ops/pkg/stream"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// Services are the dependencies of the HTTP layer. Stream, Metrics, Auth
// and Health are optional.
type Services struct {
	Reservations *reservation.Manager
	Inventory    *inventory.Ledger
	Recipes      *recipe.Store
	Stream       *stream.Hub
	Metrics      *metrics.Metrics
	Auth         *auth.Manager
	Health       func(ctx context.Context) error
	Logger       *zap.Logger
	Production   bool
}

type Handler struct {
	Services
	now func() time.Time
}

func New(s Services) *Handler {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	return &Handler{Services: s, now: time.Now}
}

func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(h.Logger), h.Metrics.Middleware())

	r.GET("/manage/health", h.healthCheck)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	if h.Auth != nil {
		r.GET(auth.LoginPath, h.Auth.Login)
		r.GET("/api/auth/callback", h.Auth.Callback)
		r.POST("/api/auth/logout", h.Auth.Logout)
	}

	api := r.Group("/api")
	if h.Auth != nil {
		api.Use(h.Auth.Middleware())
	}

	api.GET("/reservations", h.listReservations)
	api.POST("/reservations", h.createReservation)
	api.GET("/reservations/conflicts", h.reservationConflicts)
	if h.Stream != nil {
		api.GET("/reservations/stream", h.Stream.Handler)
	}
	api.PATCH("/reservations/:id", h.updateReservation)
	api.DELETE("/reservations/:id", h.deleteReservation)

	api.GET("/inventory", h.listInventory)
	api.POST("/inventory", h.createItem)
	api.PATCH("/inventory", h.updateItem)
	api.DELETE("/inventory", h.deleteItem)

	api.GET("/inventory-movements", h.listMovements)
	api.POST("/inventory-movements", h.recordMovement)

	api.GET("/recipes", h.listRecipes)
	api.POST("/recipes", h.createRecipe)
	api.PUT("/recipes", h.updateRecipe)
	api.DELETE("/recipes", h.deleteRecipe)
	api.POST("/recipes/cost", h.costRecipe)

	api.POST("/tips/distribution", h.distributeTips)

	return r
}

// fail writes err with the status its kind maps to. Upstream messages are
// hidden in production.
func (h *Handler) fail(c *gin.Context, err error) {
	status := apperr.Status(err)
	body := gin.H{"error": err.Error()}

	switch {
	case status == http.StatusUnauthorized:
		body["loginUrl"] = auth.LoginPath
	case status >= http.StatusInternalServerError:
		h.Logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err))
		if h.Production {
			body["error"] = "internal server error"
		}
	default:
		h.Logger.Warn("request rejected",
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.String("reason", err.Error()))
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
}

// requireID reads the id query parameter used by the inventory and recipe
// endpoints.
func (h *Handler) requireID(c *gin.Context) (string, bool) {
	id := c.Query("id")
	if id == "" {
		h.fail(c, apperr.Validation("id query parameter is required"))
		return "", false
	}
	return id, true
}

func (h *Handler) healthCheck(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health(c.Request.Context()); err != nil {
			h.Logger.Warn("health check failed", zap.Error(err))
			body := gin.H{"status": "DOWN", "details": "Spreadsheet store unreachable"}
			if !h.Production {
				body["error"] = err.Error()
			}
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}
