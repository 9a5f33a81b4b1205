package handlers

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imrishuroy/photo-orderflow/internal/export"
	"github.com/imrishuroy/photo-orderflow/internal/lifecycle"
	"github.com/imrishuroy/photo-orderflow/internal/orders"
	"github.com/imrishuroy/photo-orderflow/internal/validation"
)

// RegisterAdminRoutes registers the back-office routes under /admin.
func RegisterAdminRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	admin := r.Group("/admin")

	admin.POST("/orders/:reference/transitions", func(c *gin.Context) {
		var req validation.TransitionRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		in := lifecycle.Input{PaymentMethod: req.PaymentMethod, Actor: actor(c)}
		if req.Amount != "" {
			amount, err := decimal.NewFromString(req.Amount)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": gin.H{"amount": "decimal_amount"}})
				return
			}
			in.Amount = amount
		}
		rec, err := cfg.Machine.Transition(c.Request.Context(), c.Param("reference"), orders.State(req.Target), in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	admin.DELETE("/orders/:reference", func(c *gin.Context) {
		ctx := c.Request.Context()
		ref := c.Param("reference")
		rec, err := cfg.Store.DeleteAny(ctx, ref)
		if err != nil {
			writeError(c, err)
			return
		}
		log.Info("order deleted", zap.String("reference", ref), zap.String("state", string(rec.State)),
			zap.String("actor", actor(c)))
		c.Status(http.StatusNoContent)
	})

	admin.GET("/stats", func(c *gin.Context) {
		st, err := cfg.Stats.Stats(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	admin.GET("/badges", func(c *gin.Context) {
		b, err := cfg.Stats.Badges(c.Request.Context())
		if err != nil {
			// never report a failed count as zero
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	})

	admin.GET("/orders/export.csv", func(c *gin.Context) {
		recs, err := cfg.Store.List(c.Request.Context(), orders.AreaFinal)
		if err != nil {
			writeError(c, err)
			return
		}
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, recs); err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="orders.csv"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
	})
}

func actor(c *gin.Context) string {
	if a := c.GetHeader("X-Admin-User"); a != "" {
		return a
	}
	return "admin"
}
