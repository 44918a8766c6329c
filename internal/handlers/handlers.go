package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/aggregation"
	"github.com/vantage-grc/reporting-pipeline/internal/automation"
	"github.com/vantage-grc/reporting-pipeline/internal/config"
	"github.com/vantage-grc/reporting-pipeline/internal/export"
	"github.com/vantage-grc/reporting-pipeline/internal/lifecycle"
	"github.com/vantage-grc/reporting-pipeline/internal/metrics"
	"github.com/vantage-grc/reporting-pipeline/internal/registry"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

var validate = validator.New()

// Handler wires the pipeline services to the HTTP surface.
type Handler struct {
	templates  *registry.Repository
	workflow   *lifecycle.Service
	validator  *validation.Engine
	results    *validation.ResultRepository
	aggregator *aggregation.Engine
	scheduler  *automation.Scheduler
	rules      *automation.Repository
	exporter   *export.Exporter
	collector  *metrics.Collector
	logger     *zap.Logger
}

func NewHandler(
	templates *registry.Repository,
	workflow *lifecycle.Service,
	validationEngine *validation.Engine,
	results *validation.ResultRepository,
	aggregator *aggregation.Engine,
	scheduler *automation.Scheduler,
	rules *automation.Repository,
	exporter *export.Exporter,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		templates:  templates,
		workflow:   workflow,
		validator:  validationEngine,
		results:    results,
		aggregator: aggregator,
		scheduler:  scheduler,
		rules:      rules,
		exporter:   exporter,
		collector:  collector,
		logger:     logger,
	}
}

// RegisterRoutes mounts the API.
func (h *Handler) RegisterRoutes(router *gin.Engine, monitoring config.MonitoringConfig) {
	router.GET(monitoring.HealthPath, h.health)
	if monitoring.EnableMetrics {
		router.GET(monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	{
		templates := api.Group("/templates")
		{
			templates.POST("", h.createTemplate)
			templates.GET("", h.listTemplates)
			templates.GET("/:template_id", h.getTemplate)
			templates.POST("/:template_id/versions", h.createTemplateVersion)
		}

		reports := api.Group("/reports")
		{
			reports.POST("", h.createReport)
			reports.GET("", h.listReports)
			reports.POST("/aggregate", h.aggregate)
			reports.GET("/:instance_id", h.getReport)
			reports.PUT("/:instance_id/status", h.updateStatus)
			reports.POST("/:instance_id/validate", h.validateReport)
			reports.GET("/:instance_id/results", h.listResults)
			reports.POST("/:instance_id/steps/:step_id/decision", h.decideStep)
			reports.GET("/:instance_id/artifact", h.downloadArtifact)
		}

		rules := api.Group("/automation")
		{
			rules.POST("/rules", h.createRule)
			rules.GET("/rules", h.listRules)
			rules.GET("/rules/:rule_id/executions", h.listExecutions)
			rules.POST("/rules/:rule_id/execute", h.executeRule)
			rules.POST("/execute-due", h.executeDue)
		}
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "reporting-pipeline"})
}

// respondError maps service errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	var conflict *lifecycle.WorkflowConflictError
	switch {
	case errors.As(err, &conflict):
		h.collector.WorkflowConflicts.Inc()
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case errors.Is(err, registry.ErrTemplateNotFound),
		errors.Is(err, lifecycle.ErrInstanceNotFound),
		errors.Is(err, automation.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, automation.ErrRuleLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
