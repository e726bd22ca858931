package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"adpilot/internal/campaign"
	"adpilot/internal/config"
	"adpilot/internal/scheduler"
	"adpilot/internal/store"
	"adpilot/internal/upstream"
)

// CreateCampaignRequest is the request body for POST /campaigns
type CreateCampaignRequest struct {
	ConfigPath string `json:"config_path"`

	// StartTime optionally overrides the spec's start_time. Civil
	// format in the service timezone, e.g. "2026-09-01T20:00:00".
	StartTime string `json:"start_time,omitempty"`
}

// CreateCampaignResponse is the response for POST /campaigns
type CreateCampaignResponse struct {
	Campaign *store.CampaignRecord `json:"campaign"`
	Schedule *store.ScheduleRecord `json:"schedule,omitempty"`

	// ScheduleError is set when the campaign was created but the
	// follow-up activation could not be scheduled.
	ScheduleError string `json:"schedule_error,omitempty"`
}

// ScheduleRequest is the request body for POST /campaigns/{id}/schedule
type ScheduleRequest struct {
	ActivateAt string `json:"activate_at"`
}

// CampaignListResponse is the response for GET /campaigns
type CampaignListResponse struct {
	Campaigns []*store.CampaignRecord `json:"campaigns"`
}

// ScheduleListResponse is the response for GET /schedules
type ScheduleListResponse struct {
	Schedules []*store.ScheduleRecord `json:"schedules"`
}

// AccountListResponse is the response for GET /accounts
type AccountListResponse struct {
	Accounts []*store.Account `json:"accounts"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Uptime  string       `json:"uptime"`
	Store   *store.Stats `json:"store,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`

	// Step and CreatedIDs are set for partial creation failures so the
	// caller can see exactly which remote resources already exist.
	Step       string           `json:"step,omitempty"`
	CreatedIDs *store.RemoteIDs `json:"created_ids,omitempty"`
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ConfigPath == "" {
		s.sendError(w, http.StatusBadRequest, "config_path is required")
		return
	}

	spec, err := config.LoadCampaignSpec(req.ConfigPath)
	if err != nil {
		// An unreadable or malformed spec file is caller input, same
		// as one that fails validation.
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			s.sendServiceError(w, err)
			return
		}
		s.sendError(w, http.StatusBadRequest, "Cannot load campaign config: "+err.Error())
		return
	}
	if req.StartTime != "" {
		spec.StartTime = req.StartTime
		if err := spec.Validate(); err != nil {
			s.sendServiceError(w, err)
			return
		}
	}

	startAt, err := spec.StartInstant(s.loc)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	record, err := s.campaigns.CreateCampaign(r.Context(), spec, startAt)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	resp := CreateCampaignResponse{Campaign: record}
	if startAt != nil {
		job, err := s.schedules.Schedule(r.Context(), record.ID, *startAt)
		if err != nil {
			// The campaign exists remotely; surface the scheduling
			// failure without discarding the creation result.
			s.logger.Error("campaign created but scheduling failed",
				"campaign_id", record.ID, "error", err)
			resp.ScheduleError = err.Error()
		} else {
			resp.Schedule = job
		}
	}

	s.logger.Info("campaign created via API",
		"campaign_id", record.ID,
		"account_id", record.AccountID,
		"scheduled", resp.Schedule != nil,
	)
	s.sendJSON(w, http.StatusCreated, resp)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	records, err := store.ListCampaigns(r.Context(), s.store)
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}
	s.sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: records})
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := store.GetCampaign(r.Context(), s.store, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, record)
}

// handleActivateCampaign handles POST /api/v1/campaigns/{id}/activate
func (s *Server) handleActivateCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.campaigns.ActivateCampaign(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.logger.Info("campaign activated via API", "campaign_id", id)
	s.sendJSON(w, http.StatusOK, record)
}

// SyncResponse is the response for POST /campaigns/{id}/sync
type SyncResponse struct {
	Campaign *store.CampaignRecord `json:"campaign"`
	Changed  map[string]any        `json:"changed"`
}

// handleSyncCampaign handles POST /api/v1/campaigns/{id}/sync
func (s *Server) handleSyncCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	changed, record, err := s.campaigns.SyncCampaign(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SyncResponse{Campaign: record, Changed: changed})
}

// handleScheduleActivation handles POST /api/v1/campaigns/{id}/schedule
func (s *Server) handleScheduleActivation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ActivateAt == "" {
		s.sendError(w, http.StatusBadRequest, "activate_at is required")
		return
	}

	runAt, err := time.ParseInLocation("2006-01-02T15:04:05", req.ActivateAt, s.loc)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "activate_at must look like 2026-09-01T20:00:00")
		return
	}

	job, err := s.schedules.Schedule(r.Context(), id, runAt)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, job)
}

// handleCancelCampaignSchedule handles DELETE /api/v1/campaigns/{id}/schedule
func (s *Server) handleCancelCampaignSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.schedules.CancelPendingForCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "No pending schedule for campaign")
			return
		}
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, job)
}

// handleListSchedules handles GET /api/v1/schedules
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	var (
		records []*store.ScheduleRecord
		err     error
	)
	if r.URL.Query().Get("status") == "pending" {
		records, err = s.schedules.ListPending(r.Context())
	} else {
		records, err = store.ListSchedules(r.Context(), s.store)
	}
	if err != nil {
		s.logger.Error("failed to list schedules", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list schedules")
		return
	}
	s.sendJSON(w, http.StatusOK, ScheduleListResponse{Schedules: records})
}

// handleCancelSchedule handles DELETE /api/v1/schedules/{job_id}
func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.schedules.Cancel(r.Context(), jobID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, job)
}

// CreateAccountRequest is the request body for POST /accounts
type CreateAccountRequest struct {
	ID         string `json:"id"`
	RemoteID   string `json:"remote_id"`
	ClientName string `json:"client_name"`
	Currency   string `json:"currency"`
	PixelID    string `json:"pixel_id,omitempty"`
	PageID     string `json:"page_id,omitempty"`
	CatalogID  string `json:"catalog_id,omitempty"`
}

// handleCreateAccount handles POST /api/v1/accounts
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ID == "" || req.RemoteID == "" || req.ClientName == "" || req.Currency == "" {
		s.sendError(w, http.StatusBadRequest, "id, remote_id, client_name and currency are required")
		return
	}

	if _, err := store.GetAccount(r.Context(), s.store, req.ID); err == nil {
		s.sendError(w, http.StatusConflict, "Account already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to check account", "id", req.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to check account")
		return
	}

	now := time.Now().UTC()
	account := &store.Account{
		ID:         req.ID,
		RemoteID:   req.RemoteID,
		ClientName: req.ClientName,
		Currency:   req.Currency,
		PixelID:    req.PixelID,
		PageID:     req.PageID,
		CatalogID:  req.CatalogID,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.PutAccount(r.Context(), s.store, account); err != nil {
		s.logger.Error("failed to save account", "id", req.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to save account")
		return
	}

	s.logger.Info("account created via API", "id", account.ID, "client", account.ClientName)
	s.sendJSON(w, http.StatusCreated, account)
}

// handleListAccounts handles GET /api/v1/accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	records, err := store.ListAccounts(r.Context(), s.store)
	if err != nil {
		s.logger.Error("failed to list accounts", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}
	s.sendJSON(w, http.StatusOK, AccountListResponse{Accounts: records})
}

// handleGetAccount handles GET /api/v1/accounts/{id}
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	account, err := store.GetAccount(r.Context(), s.store, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, account)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, _ := store.CollectStats(r.Context(), s.store)

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: "0.1.0",
		Uptime:  time.Since(s.startTime).String(),
		Store:   stats,
	})
}

// sendServiceError maps domain errors onto HTTP statuses
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *config.ValidationError
		assetErr      *campaign.AssetError
		accountErr    *campaign.AccountError
		duplicateErr  *campaign.DuplicateIDError
		stateErr      *campaign.StateError
		mismatchErr   *campaign.StatusMismatchError
		partialErr    *campaign.PartialError
		apiErr        *upstream.APIError
		scheduleErr   *scheduler.InvalidScheduleError
		notPendingErr *scheduler.NotPendingError
	)

	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &assetErr),
		errors.As(err, &accountErr),
		errors.As(err, &scheduleErr):
		s.sendError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, store.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Not found")

	case errors.As(err, &duplicateErr),
		errors.As(err, &stateErr),
		errors.As(err, &notPendingErr):
		s.sendError(w, http.StatusConflict, err.Error())

	case errors.As(err, &partialErr):
		s.logger.Error("partial campaign creation", "step", partialErr.StepName, "error", err)
		s.sendJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:      err.Error(),
			Step:       partialErr.StepName,
			CreatedIDs: &partialErr.IDs,
		})

	case errors.As(err, &mismatchErr), errors.As(err, &apiErr):
		s.logger.Error("upstream error", "error", err)
		s.sendError(w, http.StatusBadGateway, err.Error())

	default:
		s.logger.Error("internal error", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
