package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"parkpeek-guard/internal/model"
	"parkpeek-guard/internal/mw"
)

const maxReportLimit = 100

type createReportRequest struct {
	Title    string  `json:"title" binding:"required,max=256"`
	Details  string  `json:"details" binding:"required"`
	Location *string `json:"location"`
}

// CreateReport handles POST /api/reports.
func (h *Handler) CreateReport(c *gin.Context) {
	var req createReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and details are required"})
		return
	}

	var report model.Report
	if err := copier.Copy(&report, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report"})
		return
	}
	report.ID = uuid.NewString()
	report.GuardID = c.GetString(mw.GuardIDKey)
	report.Title = strings.TrimSpace(report.Title)
	report.Details = strings.TrimSpace(report.Details)
	report.CreatedAt = time.Now().UTC()
	if report.Location != nil {
		if loc := strings.TrimSpace(*report.Location); loc != "" {
			report.Location = &loc
		} else {
			report.Location = nil
		}
	}

	if err := h.store.CreateReport(c.Request.Context(), &report); err != nil {
		log.Printf("Failed to save report: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit report"})
		return
	}
	if h.cache != nil {
		mw.InvalidateResponses(h.cache, "/api/reports")
	}

	c.JSON(http.StatusCreated, report)
}

// ListReports handles GET /api/reports?limit=N, newest first.
func (h *Handler) ListReports(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxReportLimit)
	}

	reports, err := h.store.ListReports(c.Request.Context(), limit)
	if err != nil {
		log.Printf("Failed to list reports: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve reports"})
		return
	}
	c.JSON(http.StatusOK, reports)
}
