// Package api exposes invoice ingestion, evaluation and the lifecycle
// actions over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"invoice-reconciliation-engine/internal/lifecycle"
	"invoice-reconciliation-engine/internal/reconciler"
	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// Handler serves the HTTP routes of one reconciliation service
type Handler struct {
	service *reconciler.Service
	logger  logger.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(service *reconciler.Service, log logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	h := &Handler{service: service, logger: log.WithComponent("api")}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(h.requestID())
	r.Use(h.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	invoices := r.Group("/invoices")
	invoices.POST("", h.ingestInvoice)
	invoices.GET("", h.listInvoices)
	invoices.GET("/:id", h.getInvoice)
	invoices.POST("/:id/evaluate", h.evaluateInvoice)
	invoices.POST("/:id/preview", h.previewInvoice)
	invoices.POST("/:id/post", h.lifecycleAction(lifecycle.ActionPost))
	invoices.POST("/:id/park", h.lifecycleAction(lifecycle.ActionPark))
	invoices.POST("/:id/release", h.lifecycleAction(lifecycle.ActionRelease))
	invoices.POST("/:id/reject", h.lifecycleAction(lifecycle.ActionReject))
	invoices.POST("/:id/train", h.trainInvoice)

	rules := r.Group("/rules")
	rules.GET("", h.listRules)
	rules.POST("", h.createRule)
	rules.POST("/:id/enable", h.setRuleActive(true))
	rules.POST("/:id/disable", h.setRuleActive(false))

	return r
}

// requestID tags every request with a correlation id, reusing the caller's
func (h *Handler) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := h.logger.WithFields(logger.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  c.GetString("request_id"),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	}
}

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Category   string `json:"category,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Retryable  bool   `json:"retryable"`
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if rerr, ok := errors.AsReconcilerError(err); ok {
		status := rerr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).WithField("request_id", c.GetString("request_id")).Error("Request error")
		}
		c.JSON(status, errorResponse{
			Error:      rerr.Message,
			Code:       string(rerr.Code),
			Category:   string(rerr.Category),
			Suggestion: rerr.Suggestion,
			Retryable:  rerr.IsRetryable(),
		})
		return
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Retryable: true})
		return
	}
	h.logger.WithError(err).Error("Unexpected request error")
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Error:    "invalid request body: " + err.Error(),
		Code:     string(errors.CodeInvalidFormat),
		Category: string(errors.CategoryParse),
	})
}
