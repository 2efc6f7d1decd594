package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"mlsync/internal/models"
	"mlsync/internal/reconcile"
	"mlsync/internal/scheduler"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enqueueRequest struct {
	IntegrationID string `json:"integration_id"`
	SyncType      string `json:"sync_type"`
	Priority      string `json:"priority"`
}

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := s.buildEnqueueRequest(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	job, err := s.scheduler.Enqueue(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) buildEnqueueRequest(body enqueueRequest) (scheduler.EnqueueRequest, error) {
	syncType, err := models.ParseSyncType(body.SyncType)
	if err != nil {
		return scheduler.EnqueueRequest{}, err
	}

	priority := models.PriorityNormal
	if body.Priority != "" {
		priority, err = models.ParsePriority(body.Priority)
		if err != nil {
			return scheduler.EnqueueRequest{}, err
		}
	}

	return scheduler.EnqueueRequest{
		IntegrationID: body.IntegrationID,
		SyncType:      syncType,
		Priority:      priority,
	}, nil
}

type bulkEnqueueRequest struct {
	IntegrationIDs []string `json:"integration_ids"`
	SyncType       string   `json:"sync_type"`
	Priority       string   `json:"priority"`
}

type bulkEnqueueSkip struct {
	IntegrationID string `json:"integration_id"`
	Reason        string `json:"reason"`
}

// handleBulkEnqueue enqueues one sync per integration. Individual
// rejections (duplicates, unknown integrations) are reported per entry
// instead of failing the whole request.
func (s *Server) handleBulkEnqueue(w http.ResponseWriter, r *http.Request) {
	var body bulkEnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.IntegrationIDs) == 0 {
		writeError(w, http.StatusBadRequest, "integration_ids is required")
		return
	}

	var enqueued []models.SyncJob
	var skipped []bulkEnqueueSkip
	for _, id := range body.IntegrationIDs {
		req, err := s.buildEnqueueRequest(enqueueRequest{
			IntegrationID: id,
			SyncType:      body.SyncType,
			Priority:      body.Priority,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		job, err := s.scheduler.Enqueue(r.Context(), req)
		if err != nil {
			skipped = append(skipped, bulkEnqueueSkip{IntegrationID: id, Reason: err.Error()})
			continue
		}
		enqueued = append(enqueued, *job)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"enqueued": enqueued,
		"skipped":  skipped,
	})
}

// handleQuickSync is the dashboard's one-click action: enqueue a sync
// for one integration straight from the URL. Priority comes from an
// optional query parameter and defaults to normal.
func (s *Server) handleQuickSync(w http.ResponseWriter, r *http.Request) {
	syncType, err := models.ParseSyncType(chi.URLParam(r, "syncType"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	priority, err := models.ParsePriority(r.URL.Query().Get("priority"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	job, err := s.scheduler.Enqueue(r.Context(), scheduler.EnqueueRequest{
		IntegrationID: chi.URLParam(r, "integrationID"),
		SyncType:      syncType,
		Priority:      priority,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := models.JobFilter{
		IntegrationID: strings.TrimSpace(r.URL.Query().Get("integration_id")),
		Limit:         models.DefaultListLimit,
	}

	if raw := r.URL.Query().Get("sync_type"); raw != "" {
		syncType, err := models.ParseSyncType(raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.SyncType = syncType
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := models.ParseJobStatus(raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.Status = status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	jobs, err := s.scheduler.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.SyncJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.scheduler.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.scheduler.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.scheduler.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMappingReport(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	report, err := s.engine.Report(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleSuggest returns the best auto-mapping candidate for one
// supplier SKU, plus every candidate above the suggestion threshold.
// No plausible match yields a zero-confidence result, not an error.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	supplierSKU := chi.URLParam(r, "supplierSKU")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	suggestions, err := s.engine.Suggest(r.Context(), tenantID, supplierSKU)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	best := models.MappingSuggestion{}
	if len(suggestions) > 0 {
		best = suggestions[0]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"supplier_sku":     supplierSKU,
		"master_sku":       best.MasterSKU,
		"confidence_score": best.ConfidenceScore,
		"suggestions":      suggestions,
	})
}

func (s *Server) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID    string `json:"tenant_id"`
		SupplierSKU string `json:"supplier_sku"`
		MasterSKU   string `json:"master_sku"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	mapping, err := s.engine.CreateManualMapping(r.Context(), body.TenantID, body.SupplierSKU, body.MasterSKU)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapping)
}

// handleBulkMappings accepts either JSON pairs or the plain-text
// "supplier_sku,master_sku" line format.
func (s *Server) handleBulkMappings(w http.ResponseWriter, r *http.Request) {
	var tenantID string
	var pairs []models.MappingPair

	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		tenantID = strings.TrimSpace(r.URL.Query().Get("tenant_id"))
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		pairs = reconcile.ParseBulkText(string(raw))
	} else {
		var body struct {
			TenantID string               `json:"tenant_id"`
			Pairs    []models.MappingPair `json:"pairs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		tenantID = body.TenantID
		pairs = body.Pairs
	}

	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	applied, err := s.engine.BulkCreateMappings(r.Context(), tenantID, pairs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"total":   len(pairs),
	})
}

func (s *Server) handleListIntegrations(w http.ResponseWriter, _ *http.Request) {
	type integrationView struct {
		ID       string `json:"id"`
		TenantID string `json:"tenant_id"`
		Name     string `json:"name"`
		Provider string `json:"provider"`
	}

	integrations := s.registry.List()
	views := make([]integrationView, 0, len(integrations))
	for _, i := range integrations {
		views = append(views, integrationView{
			ID:       i.ID,
			TenantID: i.TenantID,
			Name:     i.Name,
			Provider: i.Connector.Provider(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"integrations": views})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeDomainError maps sentinel errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
