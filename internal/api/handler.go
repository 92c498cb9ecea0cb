package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/opensource-finance/simguard/internal/analysis"
	"github.com/opensource-finance/simguard/internal/batch"
	"github.com/opensource-finance/simguard/internal/bus"
	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/opensource-finance/simguard/internal/ingest"
	"github.com/opensource-finance/simguard/internal/report"
	"github.com/opensource-finance/simguard/internal/repository"
	"github.com/opensource-finance/simguard/internal/session"
)

const defaultMaxUploadBytes = 32 << 20

var validate = validator.New()

// Handler holds dependencies for API handlers.
type Handler struct {
	deps     Deps
	parser   *ingest.Parser
	version  string
	maxBytes int64
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		deps:     deps,
		parser:   ingest.NewParser(),
		version:  version,
		maxBytes: maxUploadBytes,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if h.deps.Repo != nil {
		check("repository", func() error { return h.deps.Repo.Ping(ctx) })
	}
	if h.deps.Cache != nil {
		check("cache", func() error { return h.deps.Cache.Ping(ctx) })
	}
	if h.deps.Bus != nil {
		check("eventBus", func() error { return h.deps.Bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"version":       h.version,
		"policyVersion": h.deps.Engine.Bank().PolicyVersion(),
		"rules":         h.deps.Engine.RulesCount(),
		"checks":        checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Upload handles POST /upload. The CSV is taken from the multipart "file"
// field or, for any other content type, from the raw request body.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	src, filename, err := h.uploadSource(r)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	defer src.Close()

	upload, err := h.parser.Parse(src)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	upload.ID = uuid.New().String()
	upload.Filename = filename
	upload.CreatedAt = time.Now().UTC()

	if err := h.deps.Session.SaveUpload(ctx, upload); err != nil {
		slog.Error("failed to store upload", "upload_id", upload.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	slog.Info("upload accepted",
		"upload_id", upload.ID,
		"filename", filename,
		"events", len(upload.Events),
		"users", len(upload.Users),
		"dropped_rows", upload.DroppedRows,
		"defaulted_timestamps", upload.DefaultedTimestamps,
	)

	writeJSON(w, http.StatusOK, domain.UploadResponse{
		UploadID:             upload.ID,
		Filename:             filename,
		Events:               len(upload.Events),
		Users:                len(upload.Users),
		DroppedRows:          upload.DroppedRows,
		DefaultedTimestamps:  upload.DefaultedTimestamps,
		DefaultedLoginStatus: upload.DefaultedLoginStatus,
		Columns:              upload.Columns,
	})
}

func (h *Handler) uploadSource(r *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, r.URL.Query().Get("filename"), nil
	}

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", errMissingFile
	}
	return file, header.Filename, nil
}

var errMissingFile = errors.New(`multipart upload requires a "file" field`)

func writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
	case errors.Is(err, ingest.ErrEmptyFile), errors.Is(err, ingest.ErrMissingColumn), errors.Is(err, errMissingFile):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadRequest, "invalid CSV: "+err.Error())
	}
}

// AnalyzeAccepted is the response for an asynchronous analysis request.
type AnalyzeAccepted struct {
	RequestID string `json:"requestId"`
	UploadID  string `json:"uploadId"`
	Status    string `json:"status"`
}

// Analyze handles POST /analyze. With ?async=true the request is handed to
// the analysis worker over the event bus.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.URL.Query().Get("async") == "true" {
		h.analyzeAsync(w, r)
		return
	}

	summary, err := h.deps.Analysis.Run(ctx, domain.AnalysisRequest{RequestID: GetRequestID(ctx)})
	if err != nil {
		writeAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) analyzeAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.deps.AsyncAnalysis || h.deps.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "asynchronous analysis is not enabled")
		return
	}

	upload, err := h.deps.Session.LatestUpload(ctx)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}

	req := domain.AnalysisRequest{
		RequestID: uuid.New().String(),
		UploadID:  upload.ID,
	}
	if err := bus.PublishJSON(ctx, h.deps.Bus, domain.TopicAnalysisRequested, req); err != nil {
		slog.Error("failed to publish analysis request", "upload_id", upload.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue analysis")
		return
	}

	writeJSON(w, http.StatusAccepted, AnalyzeAccepted{
		RequestID: req.RequestID,
		UploadID:  req.UploadID,
		Status:    "accepted",
	})
}

func writeAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoUpload):
		writeError(w, http.StatusBadRequest, "no data uploaded; POST /upload first")
	case errors.Is(err, batch.ErrMissingUserID):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, analysis.ErrNotEvaluable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("analysis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
	}
}

// Results handles GET /results. Optional filters: ?tier=HIGH and
// ?suspicious=true restrict the results list.
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.latestAnalysis(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	tier := domain.AlertTier(strings.ToUpper(q.Get("tier")))
	suspiciousOnly := q.Get("suspicious") == "true"

	if tier != "" || suspiciousOnly {
		filtered := make([]domain.Evaluation, 0, len(summary.Results))
		for _, e := range summary.Results {
			if tier != "" && e.Tier != tier {
				continue
			}
			if suspiciousOnly && !e.Suspicious() {
				continue
			}
			filtered = append(filtered, e)
		}
		summary.Results = filtered
	}

	writeJSON(w, http.StatusOK, summary)
}

// UserResult handles GET /results/{userID}.
func (h *Handler) UserResult(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.latestAnalysis(w, r)
	if !ok {
		return
	}

	userID := chi.URLParam(r, "userID")
	eval, found := summary.Result(userID)
	if !found {
		for _, ex := range summary.Excluded {
			if ex.UserID == userID {
				writeJSON(w, http.StatusOK, map[string]any{
					"userId":   userID,
					"excluded": true,
					"reason":   ex.Reason,
				})
				return
			}
		}
		writeError(w, http.StatusNotFound, "user not found in latest analysis")
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.deps.Session.Status(r.Context())
	if err != nil {
		slog.Error("failed to read session status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Clear handles POST /clear.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Session.Clear(r.Context()); err != nil {
		slog.Error("failed to clear session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "session cleared",
	})
}

// Report handles GET /report, a CSV export of the flagged users.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.latestAnalysis(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": report.Filename(summary),
	}))
	w.WriteHeader(http.StatusOK)

	if err := report.WriteCSV(w, summary); err != nil {
		slog.Error("failed to write report", "analysis_id", summary.AnalysisID, "error", err)
	}
}

func (h *Handler) latestAnalysis(w http.ResponseWriter, r *http.Request) (*domain.DatasetSummary, bool) {
	summary, err := h.deps.Session.LatestAnalysis(r.Context())
	if errors.Is(err, session.ErrNoAnalysis) {
		writeError(w, http.StatusNotFound, "no analysis available; POST /analyze first")
		return nil, false
	}
	if err != nil {
		slog.Error("failed to read analysis", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read analysis")
		return nil, false
	}
	return summary, true
}

// Evaluate handles POST /evaluate, scoring one subscriber's events directly.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req domain.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	eval, err := h.deps.Analysis.EvaluateUser(r.Context(), req)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// ListRules returns the rules of the active bank in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	bank := h.deps.Engine.Bank()
	loaded := bank.Rules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":         loaded,
		"count":         len(loaded),
		"policyVersion": bank.PolicyVersion(),
	})
}

// GetRule returns a built-in rule by name or a stored rule by id.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	for _, rule := range h.deps.Engine.Bank().Rules() {
		if rule.Builtin && rule.Name == id {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	if h.deps.Repo == nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	cfg, err := h.deps.Repo.GetRuleConfig(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.Error("failed to get rule", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression" validate:"required"`
	Weight      int    `json:"weight" validate:"gt=0"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// CreateRule validates a custom CEL rule, stores it and reloads the bank.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Weight:      req.Weight,
		Enabled:     req.Enabled == nil || *req.Enabled,
		CreatedAt:   time.Now().UTC(),
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	if err := h.deps.Engine.ValidateRule(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}

	existing, err := h.deps.Repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	for _, other := range existing {
		if other.Name == cfg.Name && other.ID != cfg.ID {
			writeError(w, http.StatusConflict, "a rule named "+cfg.Name+" already exists")
			return
		}
	}

	if err := h.deps.Repo.SaveRuleConfig(ctx, cfg); err != nil {
		slog.Error("failed to save rule config", "id", cfg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	count, err := h.reloadRules(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rule saved but reload failed: "+err.Error())
		return
	}

	slog.Info("rule created", "id", cfg.ID, "name", cfg.Name, "enabled", cfg.Enabled)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":  cfg,
		"rules": count,
	})
}

// DeleteRule removes a stored custom rule and reloads the bank.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	id := chi.URLParam(r, "id")
	err := h.deps.Repo.DeleteRuleConfig(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete rule", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}

	if _, err := h.reloadRules(r); err != nil {
		writeError(w, http.StatusInternalServerError, "rule deleted but reload failed: "+err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules reloads custom rules from the repository into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	count, err := h.reloadRules(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

func (h *Handler) reloadRules(r *http.Request) (int, error) {
	stored, err := h.deps.Repo.ListRuleConfigs(r.Context())
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		return 0, err
	}

	if err := h.deps.Engine.ReloadRules(stored); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		return 0, err
	}

	count := h.deps.Engine.RulesCount()
	slog.Info("rules reloaded from database", "stored", len(stored), "active", count)
	return count, nil
}

// GetPolicy returns the active policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Engine.Policy())
}

// UpdatePolicy validates, stores and activates a new policy version.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var policy domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if policy.Weights == nil {
		policy.Weights = map[string]int{}
	}
	if err := policy.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.deps.Repo != nil {
		if err := h.deps.Repo.SavePolicy(ctx, &policy); err != nil {
			slog.Error("failed to save policy", "version", policy.Version, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save policy")
			return
		}
	}

	if err := h.deps.Engine.UpdatePolicy(policy); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("policy updated", "version", policy.Version)
	writeJSON(w, http.StatusOK, h.deps.Engine.Policy())
}

// ListPolicyVersions returns the stored policy versions.
func (h *Handler) ListPolicyVersions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	versions, err := h.deps.Repo.ListPolicyVersions(r.Context())
	if err != nil {
		slog.Error("failed to list policy versions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list policy versions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"active":   h.deps.Engine.Bank().PolicyVersion(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
