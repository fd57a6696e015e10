package handler

import (
	"net/http"
	"time"

	"github.com/medflow/nurse-station/internal/inventory/service"
	"github.com/medflow/nurse-station/pkg/errors"
	"github.com/medflow/nurse-station/pkg/httputil"
	"github.com/medflow/nurse-station/pkg/logger"
)

// DashboardHandler handles dashboard endpoints. Every report takes year
// (default: this year) and month (1-12, or 0 for the whole year).
type DashboardHandler struct {
	service *service.ReportService
	alerts  *service.AlertService
	logger  *logger.Logger
	now     func() time.Time
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(svc *service.ReportService, alerts *service.AlertService, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{
		service: svc,
		alerts:  alerts,
		logger:  log,
		now:     time.Now,
	}
}

func (h *DashboardHandler) period(r *http.Request) (year, month int, err error) {
	year, err = httputil.QueryInt(r, "year", h.now().Year())
	if err != nil {
		return 0, 0, err
	}
	month, err = httputil.QueryInt(r, "month", 0)
	if err != nil {
		return 0, 0, err
	}
	if month < 0 || month > 12 {
		return 0, 0, errors.InvalidField("month", "must be between 0 and 12")
	}
	return year, month, nil
}

// DrugSummary reports per-drug usage and remaining stock
func (h *DashboardHandler) DrugSummary(w http.ResponseWriter, r *http.Request) {
	year, month, err := h.period(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	stats, err := h.service.DrugSummary(r.Context(), year, month)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}

// MonthlyCost reports dispensed cost per month of a year
func (h *DashboardHandler) MonthlyCost(w http.ResponseWriter, r *http.Request) {
	year, _, err := h.period(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	months, err := h.service.MonthlyCost(r.Context(), year)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, months)
}

// TopItems reports the most dispensed items
func (h *DashboardHandler) TopItems(w http.ResponseWriter, r *http.Request) {
	year, month, err := h.period(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	n, err := httputil.QueryInt(r, "n", 0)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	top, err := h.service.TopItems(r.Context(), year, month, n)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, top)
}

// Departments reports visits per department
func (h *DashboardHandler) Departments(w http.ResponseWriter, r *http.Request) {
	year, month, err := h.period(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	counts, err := h.service.DepartmentCounts(r.Context(), year, month)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, counts)
}

// Symptoms reports visits per symptom group
func (h *DashboardHandler) Symptoms(w http.ResponseWriter, r *http.Request) {
	year, month, err := h.period(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	counts, err := h.service.SymptomCounts(r.Context(), year, month)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, counts)
}

// Alerts lists current low stock and expiry alerts
func (h *DashboardHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.Scan(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, alerts, &httputil.Meta{Count: len(alerts)})
}
