// Package client provides a reusable HTTP client for load testing the
// tradepost moderation API. It wraps the public endpoints with typed
// request/response structs, turns non-2xx responses into *StatusError, and
// offers a polling helper for waiting on asynchronous verdicts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Request / response types (local equivalents of the API payloads)
// ---------------------------------------------------------------------------

// PredictRequest is the body for POST /predict.
type PredictRequest struct {
	SellerID         int64  `json:"seller_id"`
	IsVerifiedSeller bool   `json:"is_verified_seller"`
	ItemID           int64  `json:"item_id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Category         int    `json:"category"`
	ImagesQty        int    `json:"images_qty"`
}

// PredictResponse is the verdict returned by /predict and /simple_predict.
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

// ModerationResult is the state of an asynchronous task. IsViolation and
// Probability are nil while the task is still pending.
type ModerationResult struct {
	TaskID      string   `json:"task_id"`
	Status      string   `json:"status"`
	IsViolation *bool    `json:"is_violation"`
	Probability *float64 `json:"probability"`
}

// CloseResponse acknowledges a closed ad.
type CloseResponse struct {
	ItemID  int64  `json:"item_id"`
	Message string `json:"message"`
}

// StatusError is returned for any non-2xx API response. Detail carries the
// "detail" field of the error body when one was present.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("api: status %d: %s", e.Code, e.Detail)
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client is a thin typed wrapper around the moderation API. It is safe for
// concurrent use by many load test workers.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the API at baseURL (e.g. http://localhost:8080).
// Individual requests time out after timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Healthz checks the liveness endpoint.
func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Predict scores an ad from caller-supplied fields without touching storage.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (PredictResponse, error) {
	var out PredictResponse
	err := c.do(ctx, http.MethodPost, "/predict", req, &out)
	return out, err
}

// SimplePredict scores a stored listing synchronously.
func (c *Client) SimplePredict(ctx context.Context, itemID int64) (PredictResponse, error) {
	var out PredictResponse
	err := c.do(ctx, http.MethodPost, "/simple_predict?item_id="+strconv.FormatInt(itemID, 10), nil, &out)
	return out, err
}

// AsyncPredict enqueues a moderation task for a stored listing.
func (c *Client) AsyncPredict(ctx context.Context, itemID int64) (AsyncPredictResponse, error) {
	var out AsyncPredictResponse
	err := c.do(ctx, http.MethodPost, "/async_predict?item_id="+strconv.FormatInt(itemID, 10), nil, &out)
	return out, err
}

// Result fetches the current state of an asynchronous task.
func (c *Client) Result(ctx context.Context, taskID string) (ModerationResult, error) {
	var out ModerationResult
	err := c.do(ctx, http.MethodGet, "/moderation_result/"+url.PathEscape(taskID), nil, &out)
	return out, err
}

// CloseAd closes a listing and invalidates its moderation state.
func (c *Client) CloseAd(ctx context.Context, itemID int64) (CloseResponse, error) {
	var out CloseResponse
	err := c.do(ctx, http.MethodPost, "/close?item_id="+strconv.FormatInt(itemID, 10), nil, &out)
	return out, err
}

// WaitForResult polls the task until it leaves the pending state or the
// context is cancelled. The returned result carries the terminal status.
func (c *Client) WaitForResult(ctx context.Context, taskID string, interval time.Duration) (ModerationResult, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := c.Result(ctx, taskID)
		if err != nil {
			return ModerationResult{}, err
		}
		if res.Status != "pending" {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return ModerationResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// do performs one API call, encoding body as JSON when non-nil and decoding
// the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{Code: resp.StatusCode, Detail: apiErr.Detail}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
