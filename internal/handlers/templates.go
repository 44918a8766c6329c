package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vantage-grc/reporting-pipeline/internal/registry"
	"github.com/vantage-grc/reporting-pipeline/internal/validation"
)

func (h *Handler) createTemplate(c *gin.Context) {
	var template registry.Template
	if err := c.ShouldBindJSON(&template); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := template.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.templates.Create(c.Request.Context(), &template); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, template)
}

func (h *Handler) getTemplate(c *gin.Context) {
	template, err := h.templates.GetByID(c.Request.Context(), c.Param("template_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

func (h *Handler) listTemplates(c *gin.Context) {
	orgID := c.Query("org")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org query parameter is required"})
		return
	}

	templates, err := h.templates.ListActiveByOrganization(c.Request.Context(), orgID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates, "count": len(templates)})
}

type templateEditRequest struct {
	Name        *string                  `json:"name"`
	Description *string                  `json:"description"`
	Frequency   *string                  `json:"frequency"`
	Sources     *registry.SourceList     `json:"sources"`
	Rules       *validation.RuleList     `json:"rules"`
	Submission  *registry.SubmissionSpec `json:"submission"`
	EditedBy    string                   `json:"edited_by"`
}

func (h *Handler) createTemplateVersion(c *gin.Context) {
	var request templateEditRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := h.templates.NewVersion(c.Request.Context(), c.Param("template_id"), func(t *registry.Template) {
		if request.Name != nil {
			t.Name = *request.Name
		}
		if request.Description != nil {
			t.Description = *request.Description
		}
		if request.Frequency != nil {
			t.Frequency = *request.Frequency
		}
		if request.Sources != nil {
			t.Sources = *request.Sources
		}
		if request.Rules != nil {
			t.Rules = *request.Rules
		}
		if request.Submission != nil {
			t.Submission = registry.SubmissionValue(*request.Submission)
		}
		if request.EditedBy != "" {
			t.CreatedBy = request.EditedBy
		}
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, next)
}
