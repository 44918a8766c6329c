package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vantage-grc/reporting-pipeline/internal/automation"
)

func (h *Handler) createRule(c *gin.Context) {
	var rule automation.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.templates.GetByID(c.Request.Context(), rule.TemplateID); err != nil {
		h.respondError(c, err)
		return
	}

	rule.Active = true
	if rule.TriggerType == automation.TriggerScheduled && rule.NextExecution == nil {
		rule.NextExecution = automation.NextExecution(&rule, time.Now().UTC())
	}
	if err := h.rules.CreateRule(c.Request.Context(), &rule); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) listRules(c *gin.Context) {
	orgID := c.Query("org")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org query parameter is required"})
		return
	}

	rules, err := h.rules.ListRulesByOrganization(c.Request.Context(), orgID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (h *Handler) listExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.rules.ListExecutions(c.Request.Context(), c.Param("rule_id"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": records, "count": len(records)})
}

func (h *Handler) executeRule(c *gin.Context) {
	record, err := h.scheduler.GenerateReport(c.Request.Context(), c.Param("rule_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) executeDue(c *gin.Context) {
	if err := h.scheduler.ExecuteScheduledReports(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pass completed"})
}
