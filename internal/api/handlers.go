package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tradepost/moderation/internal/moderation"
	"github.com/tradepost/moderation/internal/scoring"
)

// PredictRequest carries the raw listing fields for a synchronous
// prediction. Only derived features reach the engine; seller_id, item_id,
// and name ride along for parity with the ads service payload.
type PredictRequest struct {
	SellerID         int64  `json:"seller_id"`
	IsVerifiedSeller bool   `json:"is_verified_seller"`
	ItemID           int64  `json:"item_id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Category         int    `json:"category"`
	ImagesQty        int    `json:"images_qty" validate:"gte=0,lte=10"`
}

// PredictResponse is the verdict for both prediction endpoints.
type PredictResponse struct {
	IsValid     bool    `json:"is_valid"`
	Probability float64 `json:"probability"`
}

// AsyncPredictResponse acknowledges an accepted moderation task.
type AsyncPredictResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CloseListingResponse acknowledges a closed listing.
type CloseListingResponse struct {
	ItemID  int64  `json:"item_id"`
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("write response")
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, detail string) {
	a.writeJSON(w, status, errorResponse{Detail: detail})
}

// writeServiceError maps service errors onto the HTTP surface: not-found
// sentinels become 404 with the endpoint's detail text, engine outage 503,
// prediction failures 500, everything else a generic 500.
func (a *API) writeServiceError(w http.ResponseWriter, err error, notFoundDetail string) {
	switch {
	case errors.Is(err, moderation.ErrListingNotFound), errors.Is(err, moderation.ErrTaskNotFound):
		a.writeError(w, http.StatusNotFound, notFoundDetail)
	case errors.Is(err, scoring.ErrUnavailable):
		a.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, scoring.ErrPrediction):
		a.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		a.log.Error().Err(err).Msg("request failed")
		a.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// itemIDParam reads the item_id query parameter, which identifies a listing
// and must be a positive integer.
func itemIDParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("item_id")
	if raw == "" {
		return 0, fmt.Errorf("item_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("item_id must be a positive integer")
	}
	return id, nil
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	features := scoring.FeaturesFor(req.IsVerifiedSeller, req.ImagesQty, req.Description, req.Category)
	v, err := a.svc.PredictByFeatures(r.Context(), features)
	if err != nil {
		a.writeServiceError(w, err, "Ad not found")
		return
	}
	a.writeJSON(w, http.StatusOK, PredictResponse{IsValid: v.IsValid, Probability: v.Probability})
}

func (a *API) simplePredict(w http.ResponseWriter, r *http.Request) {
	itemID, err := itemIDParam(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := a.svc.PredictByListing(r.Context(), itemID)
	if err != nil {
		a.writeServiceError(w, err, "Ad not found")
		return
	}
	a.writeJSON(w, http.StatusOK, PredictResponse{IsValid: v.IsValid, Probability: v.Probability})
}

func (a *API) asyncPredict(w http.ResponseWriter, r *http.Request) {
	itemID, err := itemIDParam(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := a.svc.EnqueueTask(r.Context(), itemID)
	if err != nil {
		a.writeServiceError(w, err, "Ad not found")
		return
	}
	a.writeJSON(w, http.StatusOK, AsyncPredictResponse{
		TaskID:  task.ID.String(),
		Status:  task.Status,
		Message: "Moderation request accepted",
	})
}

func (a *API) moderationResult(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "task_id"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "task_id must be a valid UUID")
		return
	}

	res, err := a.svc.Result(r.Context(), taskID)
	if err != nil {
		a.writeServiceError(w, err, "Task not found")
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) closeListing(w http.ResponseWriter, r *http.Request) {
	itemID, err := itemIDParam(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.svc.CloseListing(r.Context(), itemID); err != nil {
		a.writeServiceError(w, err, "Ad not found or already closed")
		return
	}
	a.writeJSON(w, http.StatusOK, CloseListingResponse{ItemID: itemID, Message: "Ad closed"})
}
