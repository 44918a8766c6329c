package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vantage-grc/reporting-pipeline/internal/aggregation"
	"github.com/vantage-grc/reporting-pipeline/internal/database"
	"github.com/vantage-grc/reporting-pipeline/internal/lifecycle"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

type aggregateRequest struct {
	TemplateID  string    `json:"template_id" validate:"required"`
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required,gtfield=PeriodStart"`
	InstanceID  string    `json:"instance_id"`
}

// aggregate collects source aggregates for a template and period.
// With instance_id set, the aggregated document is stored on that
// instance so a later validate call has data to evaluate.
func (h *Handler) aggregate(c *gin.Context) {
	var request aggregateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	template, err := h.templates.GetByID(c.Request.Context(), request.TemplateID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	period := aggregation.Period{Start: request.PeriodStart, End: request.PeriodEnd}
	results, err := h.aggregator.Aggregate(c.Request.Context(), template.OrganizationID, template.Sources, period)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if request.InstanceID != "" {
		merged := aggregation.MergePayloads(results)
		document := aggregation.InstancePayload(results, merged)
		if err := h.workflow.StoreAggregate(c.Request.Context(), request.InstanceID, document); err != nil {
			h.respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

type createReportRequest struct {
	TemplateID  string    `json:"template_id" binding:"required"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
	DueDate     time.Time `json:"due_date"`
	CreatedBy   string    `json:"created_by" binding:"required"`
}

func (h *Handler) createReport(c *gin.Context) {
	var request createReportRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	template, err := h.templates.GetByID(c.Request.Context(), request.TemplateID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	instance := &lifecycle.Instance{
		TemplateID:     template.ID,
		OrganizationID: template.OrganizationID,
		PeriodStart:    request.PeriodStart,
		PeriodEnd:      request.PeriodEnd,
		DueDate:        request.DueDate,
		Status:         lifecycle.StatusDraft,
		CreatedBy:      request.CreatedBy,
	}

	var steps []lifecycle.ApprovalStep
	for i, role := range template.Submission.ApprovalRoles {
		steps = append(steps, lifecycle.ApprovalStep{
			StepNumber: i + 1,
			Name:       role + " approval",
			Assignee:   role,
		})
	}

	created, err := h.workflow.CreateInstance(c.Request.Context(), instance, steps)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) getReport(c *gin.Context) {
	instance, err := h.workflow.GetInstance(c.Request.Context(), c.Param("instance_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, instance)
}

func (h *Handler) listReports(c *gin.Context) {
	orgID := c.Query("org")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org query parameter is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	instances, err := h.workflow.ListInstances(c.Request.Context(), orgID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": instances, "count": len(instances)})
}

type statusUpdateRequest struct {
	ExpectedStatus string `json:"expected_status" binding:"required"`
	NewStatus      string `json:"new_status" binding:"required"`
	Actor          string `json:"actor" binding:"required"`
	SubmissionRef  string `json:"submission_ref"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	var request statusUpdateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	instanceID := c.Param("instance_id")
	var err error
	switch request.NewStatus {
	case lifecycle.StatusSubmitted:
		err = h.workflow.Submit(c.Request.Context(), instanceID, request.Actor, request.SubmissionRef)
	case lifecycle.StatusAccepted, lifecycle.StatusRejected:
		err = h.workflow.RecordRegulatorOutcome(c.Request.Context(), instanceID, request.NewStatus)
	default:
		err = h.workflow.Transition(c.Request.Context(), instanceID, request.ExpectedStatus, request.NewStatus, request.Actor)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.collector.InstanceTransitions.WithLabelValues(request.ExpectedStatus, request.NewStatus).Inc()
	instance, err := h.workflow.GetInstance(c.Request.Context(), instanceID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, instance)
}

// validateReport re-runs validation for an instance against its
// stored aggregate. Re-running on unchanged data yields the same
// summary and replaces the stored result set. An outcome with
// error-severity failures moves a draft or in-progress instance to
// review.
func (h *Handler) validateReport(c *gin.Context) {
	ctx := c.Request.Context()
	instanceID := c.Param("instance_id")

	instance, err := h.workflow.GetInstance(ctx, instanceID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	template, err := h.templates.GetByID(ctx, instance.TemplateID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	merged, _ := instance.AggregatedData["merged"].(map[string]interface{})
	results := h.validator.Evaluate(ctx, instanceID, template.Rules, merged)
	summary := validation.Summarize(results)

	if err := h.results.ReplaceForInstance(ctx, instanceID, results); err != nil {
		h.respondError(c, err)
		return
	}

	summaryBlob := database.JSONMap{
		"total":              summary.Total,
		"passed":             summary.Passed,
		"failed":             summary.Failed,
		"warnings":           summary.Warnings,
		"error_failures":     summary.ErrorFailures,
		"data_quality_score": summary.DataQualityScore,
		"overall_status":     string(summary.OverallStatus),
	}
	if err := h.workflow.RecordValidation(ctx, instanceID, instance.AggregatedData, summaryBlob, summary.ErrorFailures); err != nil {
		h.respondError(c, err)
		return
	}

	h.collector.ObserveQuality(instance.OrganizationID, summary.DataQualityScore)
	c.JSON(http.StatusOK, gin.H{"summary": summary, "results": results})
}

func (h *Handler) listResults(c *gin.Context) {
	results, err := h.results.ListForInstance(c.Request.Context(), c.Param("instance_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

type stepDecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Comments string `json:"comments"`
}

func (h *Handler) decideStep(c *gin.Context) {
	var request stepDecisionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.workflow.DecideStep(c.Request.Context(),
		c.Param("instance_id"), c.Param("step_id"), request.Decision, request.Comments)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (h *Handler) downloadArtifact(c *gin.Context) {
	ctx := c.Request.Context()

	instance, err := h.workflow.GetInstance(ctx, c.Param("instance_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	template, err := h.templates.GetByID(ctx, instance.TemplateID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	artifact, err := h.exporter.Render(template, instance)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}
