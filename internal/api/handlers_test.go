package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tradepost/moderation/internal/moderation"
	"github.com/tradepost/moderation/internal/scoring"
)

// fakeService scripts the service surface per test. Unset functions return
// zero values.
type fakeService struct {
	enqueueTask  func(ctx context.Context, listingID int64) (*moderation.Task, error)
	result       func(ctx context.Context, taskID uuid.UUID) (moderation.TaskResult, error)
	predictFeat  func(ctx context.Context, f scoring.FeatureVector) (scoring.Verdict, error)
	predictItem  func(ctx context.Context, listingID int64) (scoring.Verdict, error)
	closeListing func(ctx context.Context, listingID int64) error
}

func (f *fakeService) EnqueueTask(ctx context.Context, listingID int64) (*moderation.Task, error) {
	if f.enqueueTask == nil {
		return &moderation.Task{}, nil
	}
	return f.enqueueTask(ctx, listingID)
}

func (f *fakeService) Result(ctx context.Context, taskID uuid.UUID) (moderation.TaskResult, error) {
	if f.result == nil {
		return moderation.TaskResult{}, nil
	}
	return f.result(ctx, taskID)
}

func (f *fakeService) PredictByFeatures(ctx context.Context, features scoring.FeatureVector) (scoring.Verdict, error) {
	if f.predictFeat == nil {
		return scoring.Verdict{}, nil
	}
	return f.predictFeat(ctx, features)
}

func (f *fakeService) PredictByListing(ctx context.Context, listingID int64) (scoring.Verdict, error) {
	if f.predictItem == nil {
		return scoring.Verdict{}, nil
	}
	return f.predictItem(ctx, listingID)
}

func (f *fakeService) CloseListing(ctx context.Context, listingID int64) error {
	if f.closeListing == nil {
		return nil
	}
	return f.closeListing(ctx, listingID)
}

func doRequest(t *testing.T, svc Moderation, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	New(svc, zerolog.Nop()).Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func detailOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var er struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, rr, &er)
	return er.Detail
}

// ---------------------------------------------------------------------------
// /predict
// ---------------------------------------------------------------------------

func TestPredict_OK(t *testing.T) {
	var got scoring.FeatureVector
	svc := &fakeService{
		predictFeat: func(_ context.Context, f scoring.FeatureVector) (scoring.Verdict, error) {
			got = f
			return scoring.Verdict{IsValid: true, Probability: 0.91}, nil
		},
	}
	body := `{"seller_id":1,"is_verified_seller":true,"item_id":10,"name":"Bike","description":"Nice bike","category":5,"images_qty":3}`

	rr := doRequest(t, svc, http.MethodPost, "/predict", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}

	var resp PredictResponse
	decodeBody(t, rr, &resp)
	if !resp.IsValid || resp.Probability != 0.91 {
		t.Errorf("response = %+v, want is_valid=true probability=0.91", resp)
	}

	want := scoring.FeatureVector{VerifiedSeller: true, ImagesQty: 3, DescriptionLength: len("Nice bike"), Category: 5}
	if got != want {
		t.Errorf("features = %+v, want %+v", got, want)
	}
}

func TestPredict_InvalidJSON(t *testing.T) {
	rr := doRequest(t, &fakeService{}, http.MethodPost, "/predict", `{"images_qty":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestPredict_ImagesQtyOutOfRange(t *testing.T) {
	body := `{"seller_id":1,"is_verified_seller":false,"item_id":10,"name":"Bike","description":"d","category":5,"images_qty":11}`
	rr := doRequest(t, &fakeService{}, http.MethodPost, "/predict", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if detail := detailOf(t, rr); !strings.Contains(detail, "images_qty") {
		t.Errorf("detail %q does not name the offending field", detail)
	}
}

func TestPredict_EngineUnavailable(t *testing.T) {
	svc := &fakeService{
		predictFeat: func(context.Context, scoring.FeatureVector) (scoring.Verdict, error) {
			return scoring.Verdict{}, scoring.ErrUnavailable
		},
	}
	body := `{"seller_id":1,"is_verified_seller":false,"item_id":10,"name":"Bike","description":"d","category":5,"images_qty":1}`

	rr := doRequest(t, svc, http.MethodPost, "/predict", body)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestPredict_PredictionError(t *testing.T) {
	svc := &fakeService{
		predictFeat: func(context.Context, scoring.FeatureVector) (scoring.Verdict, error) {
			return scoring.Verdict{}, scoring.ErrPrediction
		},
	}
	body := `{"seller_id":1,"is_verified_seller":false,"item_id":10,"name":"Bike","description":"d","category":5,"images_qty":1}`

	rr := doRequest(t, svc, http.MethodPost, "/predict", body)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// /simple_predict
// ---------------------------------------------------------------------------

func TestSimplePredict_OK(t *testing.T) {
	svc := &fakeService{
		predictItem: func(_ context.Context, listingID int64) (scoring.Verdict, error) {
			if listingID != 10 {
				t.Errorf("listing id = %d, want 10", listingID)
			}
			return scoring.Verdict{IsValid: false, Probability: 0.2}, nil
		},
	}

	rr := doRequest(t, svc, http.MethodPost, "/simple_predict?item_id=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	var resp PredictResponse
	decodeBody(t, rr, &resp)
	if resp.IsValid || resp.Probability != 0.2 {
		t.Errorf("response = %+v, want is_valid=false probability=0.2", resp)
	}
}

func TestSimplePredict_NotFound(t *testing.T) {
	svc := &fakeService{
		predictItem: func(context.Context, int64) (scoring.Verdict, error) {
			return scoring.Verdict{}, moderation.ErrListingNotFound
		},
	}

	rr := doRequest(t, svc, http.MethodPost, "/simple_predict?item_id=10", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if detail := detailOf(t, rr); detail != "Ad not found" {
		t.Errorf("detail = %q, want %q", detail, "Ad not found")
	}
}

func TestSimplePredict_BadItemID(t *testing.T) {
	for _, target := range []string{
		"/simple_predict",
		"/simple_predict?item_id=abc",
		"/simple_predict?item_id=0",
		"/simple_predict?item_id=-3",
	} {
		rr := doRequest(t, &fakeService{}, http.MethodPost, target, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rr.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// /async_predict
// ---------------------------------------------------------------------------

func TestAsyncPredict_OK(t *testing.T) {
	taskID := uuid.New()
	svc := &fakeService{
		enqueueTask: func(_ context.Context, listingID int64) (*moderation.Task, error) {
			return &moderation.Task{ID: taskID, ListingID: listingID, Status: moderation.StatusPending}, nil
		},
	}

	rr := doRequest(t, svc, http.MethodPost, "/async_predict?item_id=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}

	var resp AsyncPredictResponse
	decodeBody(t, rr, &resp)
	if resp.TaskID != taskID.String() {
		t.Errorf("task_id = %q, want %q", resp.TaskID, taskID)
	}
	if resp.Status != moderation.StatusPending {
		t.Errorf("status = %q, want pending", resp.Status)
	}
	if resp.Message != "Moderation request accepted" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestAsyncPredict_NotFound(t *testing.T) {
	svc := &fakeService{
		enqueueTask: func(context.Context, int64) (*moderation.Task, error) {
			return nil, moderation.ErrListingNotFound
		},
	}

	rr := doRequest(t, svc, http.MethodPost, "/async_predict?item_id=10", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if detail := detailOf(t, rr); detail != "Ad not found" {
		t.Errorf("detail = %q, want %q", detail, "Ad not found")
	}
}

// ---------------------------------------------------------------------------
// /moderation_result/{task_id}
// ---------------------------------------------------------------------------

func TestModerationResult_OK(t *testing.T) {
	taskID := uuid.New()
	isViolation := true
	probability := 0.07
	svc := &fakeService{
		result: func(_ context.Context, id uuid.UUID) (moderation.TaskResult, error) {
			if id != taskID {
				t.Errorf("task id = %s, want %s", id, taskID)
			}
			return moderation.TaskResult{
				TaskID:      taskID.String(),
				Status:      moderation.StatusCompleted,
				IsViolation: &isViolation,
				Probability: &probability,
			}, nil
		},
	}

	rr := doRequest(t, svc, http.MethodGet, "/moderation_result/"+taskID.String(), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}

	var resp moderation.TaskResult
	decodeBody(t, rr, &resp)
	if resp.TaskID != taskID.String() || resp.Status != moderation.StatusCompleted {
		t.Errorf("response = %+v", resp)
	}
	if resp.IsViolation == nil || !*resp.IsViolation {
		t.Errorf("is_violation = %v, want true", resp.IsViolation)
	}
	if resp.Probability == nil || *resp.Probability != 0.07 {
		t.Errorf("probability = %v, want 0.07", resp.Probability)
	}
}

func TestModerationResult_PendingHasNullFields(t *testing.T) {
	taskID := uuid.New()
	svc := &fakeService{
		result: func(context.Context, uuid.UUID) (moderation.TaskResult, error) {
			return moderation.TaskResult{TaskID: taskID.String(), Status: moderation.StatusPending}, nil
		},
	}

	rr := doRequest(t, svc, http.MethodGet, "/moderation_result/"+taskID.String(), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var raw map[string]json.RawMessage
	decodeBody(t, rr, &raw)
	for _, field := range []string{"is_violation", "probability"} {
		v, ok := raw[field]
		if !ok {
			t.Errorf("field %s missing from pending result", field)
			continue
		}
		if string(v) != "null" {
			t.Errorf("field %s = %s, want null", field, v)
		}
	}
}

func TestModerationResult_NotFound(t *testing.T) {
	svc := &fakeService{
		result: func(context.Context, uuid.UUID) (moderation.TaskResult, error) {
			return moderation.TaskResult{}, moderation.ErrTaskNotFound
		},
	}

	rr := doRequest(t, svc, http.MethodGet, "/moderation_result/"+uuid.New().String(), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if detail := detailOf(t, rr); detail != "Task not found" {
		t.Errorf("detail = %q, want %q", detail, "Task not found")
	}
}

func TestModerationResult_BadTaskID(t *testing.T) {
	rr := doRequest(t, &fakeService{}, http.MethodGet, "/moderation_result/42", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// /close
// ---------------------------------------------------------------------------

func TestClose_OK(t *testing.T) {
	var closedID int64
	svc := &fakeService{
		closeListing: func(_ context.Context, listingID int64) error {
			closedID = listingID
			return nil
		},
	}

	rr := doRequest(t, svc, http.MethodPost, "/close?item_id=7", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	if closedID != 7 {
		t.Errorf("closed listing = %d, want 7", closedID)
	}

	var resp CloseListingResponse
	decodeBody(t, rr, &resp)
	if resp.ItemID != 7 || resp.Message != "Ad closed" {
		t.Errorf("response = %+v", resp)
	}
}

func TestClose_NotFoundOrAlreadyClosed(t *testing.T) {
	svc := &fakeService{
		closeListing: func(context.Context, int64) error {
			return moderation.ErrListingNotFound
		},
	}

	rr := doRequest(t, svc, http.MethodPost, "/close?item_id=7", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if detail := detailOf(t, rr); detail != "Ad not found or already closed" {
		t.Errorf("detail = %q, want %q", detail, "Ad not found or already closed")
	}
}

// ---------------------------------------------------------------------------
// Operational endpoints
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	rr := doRequest(t, &fakeService{}, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]bool
	decodeBody(t, rr, &resp)
	if !resp["ok"] {
		t.Errorf("response = %v, want ok=true", resp)
	}
}

func TestMetricsExposed(t *testing.T) {
	rr := doRequest(t, &fakeService{}, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "tradepost_") {
		t.Error("metrics body does not expose tradepost_ series")
	}
}
