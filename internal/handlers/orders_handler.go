package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/photo-orderflow/internal/lifecycle"
	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/session"
	"github.com/imrishuroy/photo-orderflow/internal/stats"
	"github.com/imrishuroy/photo-orderflow/internal/store"
	"github.com/imrishuroy/photo-orderflow/internal/validation"
)

// HandlerConfig groups dependencies for the order routes.
type HandlerConfig struct {
	Store    *store.Store
	Machine  *lifecycle.Machine
	Sessions *session.Manager
	Stats    *stats.Engine
	// Sweep runs an opportunistic cleanup; optional.
	Sweep func(ctx context.Context) (int, error)
	Log   *zap.Logger
}

// RegisterOrdersRoutes registers the checkout routes.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	r.POST("/sessions/:session_id/order", func(c *gin.Context) {
		ctx := c.Request.Context()
		if cfg.Sweep != nil {
			if _, err := cfg.Sweep(ctx); err != nil {
				log.Warn("opportunistic sweep failed", zap.Error(err))
			}
		}
		rec, err := cfg.Sessions.ResumeOrCreate(ctx, c.Param("session_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Location", "/orders/"+rec.Reference)
		c.JSON(http.StatusOK, rec)
	})

	r.GET("/orders/:reference", func(c *gin.Context) {
		rec, err := cfg.Store.Load(c.Request.Context(), c.Param("reference"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/orders/:reference/items", func(c *gin.Context) {
		var req validation.AddItemRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}
		rec, err := cfg.Sessions.AddItem(c.Request.Context(), c.Param("reference"),
			orders.Item{ID: req.ItemID, Product: req.Product, Quantity: req.Quantity})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.DELETE("/orders/:reference/items/:item_id", func(c *gin.Context) {
		rec, err := cfg.Sessions.RemoveItem(c.Request.Context(), c.Param("reference"), c.Param("item_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.PUT("/orders/:reference/email", func(c *gin.Context) {
		var req validation.UpdateEmailRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		rec, err := cfg.Sessions.UpdateEmail(c.Request.Context(), c.Param("reference"), req.Email)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	r.POST("/orders/:reference/finalize", func(c *gin.Context) {
		rec, err := cfg.Machine.Transition(c.Request.Context(), c.Param("reference"), orders.StateUnpaid,
			lifecycle.Input{Actor: "customer"})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})
}
