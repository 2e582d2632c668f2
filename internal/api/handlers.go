package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"invoice-reconciliation-engine/internal/lifecycle"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/reconciler"
	"invoice-reconciliation-engine/internal/store"
	"invoice-reconciliation-engine/pkg/errors"
)

// actionRequest is the body of post, park, release and reject
type actionRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

// ruleRequest accepts the same spellings as rule files
type ruleRequest struct {
	Name     string `json:"name"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Action   string `json:"action"`
	Active   *bool  `json:"active"`
}

func (h *Handler) ingestInvoice(c *gin.Context) {
	var rec models.IngestionRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		badRequest(c, err)
		return
	}

	inv, err := h.service.Ingest(c.Request.Context(), &rec)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *Handler) listInvoices(c *gin.Context) {
	filter := store.InvoiceFilter{Vendor: strings.TrimSpace(c.Query("vendor"))}
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			status, err := models.ParseInvoiceStatus(s)
			if err != nil {
				h.writeError(c, errors.ValidationError(errors.CodeInvalidField, "status", s, err))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			h.writeError(c, errors.ValidationError(errors.CodeOutOfRange, "limit", limit, err))
			return
		}
		filter.Limit = n
	}

	invoices, err := h.service.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if invoices == nil {
		invoices = []*models.Invoice{}
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices, "count": len(invoices)})
}

func (h *Handler) getInvoice(c *gin.Context) {
	inv, err := h.service.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) evaluateInvoice(c *gin.Context) {
	result, err := h.service.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) previewInvoice(c *gin.Context) {
	result, err := h.service.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) lifecycleAction(action lifecycle.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req actionRequest
		if !bindOptionalJSON(c, &req) {
			return
		}

		inv, err := h.service.Apply(c.Request.Context(), action, reconciler.ActionRequest{
			InvoiceID: c.Param("id"),
			Actor:     req.Actor,
			Note:      req.Note,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

func (h *Handler) trainInvoice(c *gin.Context) {
	var req reconciler.TrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.InvoiceID = c.Param("id")

	result, err := h.service.Train(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) listRules(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))

	rules, err := h.service.ListRules(c.Request.Context(), activeOnly)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if rules == nil {
		rules = []*models.ValidatorRule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (h *Handler) createRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	field, err := models.ParseRuleField(req.Field)
	if err != nil {
		h.writeError(c, errors.ValidationError(errors.CodeInvalidField, "field", req.Field, err))
		return
	}
	operator, err := models.ParseRuleOperator(req.Operator)
	if err != nil {
		h.writeError(c, errors.ValidationError(errors.CodeInvalidField, "operator", req.Operator, err))
		return
	}
	action, err := models.ParseRuleAction(req.Action)
	if err != nil {
		h.writeError(c, errors.ValidationError(errors.CodeInvalidField, "action", req.Action, err))
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), &models.ValidatorRule{
		Name:     req.Name,
		Field:    field,
		Operator: operator,
		Value:    req.Value,
		Action:   action,
		Active:   req.Active == nil || *req.Active,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) setRuleActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		rule, err := h.service.SetRuleActive(c.Request.Context(), c.Param("id"), active)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

// bindOptionalJSON decodes the body when there is one. An empty body leaves
// dst untouched.
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		if err == io.EOF {
			return true
		}
		badRequest(c, err)
		return false
	}
	return true
}
