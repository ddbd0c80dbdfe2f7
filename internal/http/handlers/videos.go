package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/middleware"
)

type enrichResponse struct {
	ID     string        `json:"id"`
	Status domain.Status `json:"status"`
}

type statusResponse struct {
	ID            string           `json:"id"`
	Status        domain.Status    `json:"status"`
	FailedStage   domain.Stage     `json:"failed_stage,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	HasMedia      bool             `json:"has_media"`
	HasTranscript bool             `json:"has_transcript"`
	HasAnalysis   bool             `json:"has_analysis"`
	Analysis      *domain.Analysis `json:"analysis,omitempty"`
	Variants      []domain.Variant `json:"variants,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// VideoEnrich starts the enrichment run for the video, or attaches to the one
// already in flight. The run continues in the background; callers follow it
// via the status or events endpoints.
func (a *App) VideoEnrich(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "video id required")
		return
	}
	status, err := a.Enricher.Trigger(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "video not found")
			return
		}
		a.Logger.Error().Err(err).Str("video_id", id).Msg("enrich trigger failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start enrichment")
		return
	}
	a.json(w, http.StatusAccepted, enrichResponse{ID: id, Status: status})
}

func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "video id required")
		return
	}
	v, err := a.Enricher.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "video not found")
			return
		}
		a.Logger.Error().Err(err).Str("video_id", id).Msg("status lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load video")
		return
	}
	a.json(w, http.StatusOK, statusResponse{
		ID:            v.ID,
		Status:        v.Status,
		FailedStage:   v.FailedStage,
		FailureReason: v.FailureReason,
		HasMedia:      v.HasMedia(),
		HasTranscript: v.HasTranscript(),
		HasAnalysis:   v.HasAnalysis(),
		Analysis:      v.Analysis,
		Variants:      v.Variants,
		UpdatedAt:     v.UpdatedAt,
	})
}

type variantsRequest struct {
	Count     int    `json:"count"`
	Intensity string `json:"intensity"`
	Locale    string `json:"locale"`
}

func (a *App) VideoVariants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "video id required")
		return
	}
	var req variantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	intensity, ok := domain.ParseIntensity(req.Intensity)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "intensity must be light, medium or aggressive")
		return
	}
	locale := req.Locale
	if locale == "" {
		locale = middleware.LocaleFromContext(r.Context())
	}
	variants, err := a.Enricher.GenerateVariants(r.Context(), id, req.Count, intensity, locale)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "video not found")
		case errors.Is(err, domain.ErrPreconditionFailed):
			a.error(w, http.StatusConflict, "precondition_failed", "transcript not available yet")
		case errors.Is(err, domain.ErrNoVariants):
			a.error(w, http.StatusBadGateway, "no_variants", "variant generation produced no usable results")
		default:
			a.Logger.Error().Err(err).Str("video_id", id).Msg("variant generation failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to generate variants")
		}
		return
	}
	a.json(w, http.StatusOK, map[string]any{"id": id, "variants": variants})
}

func (a *App) VideoEnrichCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "video id required")
		return
	}
	cancelled := a.Enricher.Cancel(id)
	if !cancelled {
		a.error(w, http.StatusConflict, "no_active_run", "no enrichment run in flight")
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"id": id, "cancelled": true})
}
