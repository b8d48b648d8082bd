package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mugisham37/authcore/internal/audit"
	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/repository"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
	"github.com/mugisham37/authcore/pkg/pagination"
)

// AuditHandler handles HTTP requests for audit queries and reports. All
// routes are admin-gated by the router.
type AuditHandler struct {
	audit  *audit.Logger
	logger *slog.Logger
}

// NewAuditHandler creates a new audit HTTP handler.
func NewAuditHandler(auditLogger *audit.Logger, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: auditLogger, logger: logger}
}

// Query handles GET /api/v1/audit/events
//
// Supported query parameters: from, to (RFC 3339), type (repeatable),
// user_id, severity, page, per_page.
func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	params := pagination.FromRequest(r)
	filter.Limit = params.PerPage
	filter.Offset = params.Offset

	total, err := h.audit.Count(r.Context(), filter)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: pagination.NewResult(events, total, params)})
}

// Report handles GET /api/v1/audit/report
func (h *AuditHandler) Report(w http.ResponseWriter, r *http.Request) {
	from, to, err := periodFromQuery(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	report, err := h.audit.GenerateSecurityReport(r.Context(), from, to, audit.DefaultReportConfig())
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: report})
}

// Anomalies handles GET /api/v1/audit/anomalies
func (h *AuditHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	from, to, err := periodFromQuery(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	anomalies, err := h.audit.DetectAnomalies(r.Context(), from, to, audit.DefaultReportConfig())
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: anomalies})
}

func filterFromQuery(r *http.Request) (repository.AuditFilter, error) {
	var filter repository.AuditFilter
	q := r.URL.Query()

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperrors.InvalidInput("invalid 'from' timestamp")
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperrors.InvalidInput("invalid 'to' timestamp")
		}
		filter.To = t
	}
	for _, t := range q["type"] {
		filter.EventTypes = append(filter.EventTypes, domain.AuditEventType(t))
	}
	filter.UserID = q.Get("user_id")
	filter.Severity = domain.AuditSeverity(q.Get("severity"))
	return filter, nil
}

// periodFromQuery parses the reporting period, defaulting to the last 24 hours.
func periodFromQuery(r *http.Request) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	q := r.URL.Query()

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, apperrors.InvalidInput("invalid 'from' timestamp")
		}
		from = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, apperrors.InvalidInput("invalid 'to' timestamp")
		}
		to = t
	}
	if !from.Before(to) {
		return from, to, apperrors.InvalidInput("'from' must be before 'to'")
	}
	return from, to, nil
}
