// Package main implements a standalone end-to-end integration test for the
// tradepost moderation pipeline. It validates the full task journey against a
// running stack: health checks, synchronous prediction, async enqueue, worker
// verdict, result reads, input validation, and optionally closing the ad.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-api http://localhost:8080] [-item 1] [-timeout 60s] [-close]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tradepost/moderation/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	itemID := flag.Int64("item", 1, "Existing listing id to run the pipeline against")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	closeAd := flag.Bool("close", false, "Also close the ad at the end (leaves the listing closed)")
	flag.Parse()

	fmt.Println("=== Moderation Pipeline E2E Test ===")
	fmt.Printf("API: %s, item: %d\n\n", *apiBase, *itemID)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	api := client.New(*apiBase, 10*time.Second)

	var results []scenarioResult

	// Run scenarios sequentially.
	results = append(results, scenario1HealthCheck(ctx, api, *apiBase))
	results = append(results, scenario2Predict(ctx, api))
	results = append(results, scenario3SimplePredict(ctx, api, *itemID))

	// Scenarios 4-5 share a task; run them as a group. The task id feeds
	// scenario 7, which verifies that closing the ad erases the task.
	s4, s5, taskID := scenario45AsyncPipeline(ctx, api, *itemID)
	results = append(results, s4, s5)

	results = append(results, scenario6Validation(ctx, api))
	results = append(results, scenario7CloseAd(ctx, api, *itemID, taskID, *closeAd))

	// ---------------------------------------------------------------------------
	// Summary
	// ---------------------------------------------------------------------------
	fmt.Println()
	passed := 0
	failed := 0
	info := 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: health and metrics endpoints
// ---------------------------------------------------------------------------

func scenario1HealthCheck(ctx context.Context, api *client.Client, apiBase string) scenarioResult {
	name := "Scenario 1: Health Check"

	if err := api.Healthz(ctx); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("healthz: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/metrics", nil)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("metrics request: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("metrics: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("metrics body: %v", err)}
	}
	if !strings.Contains(string(body), "tradepost_") {
		return scenarioResult{name, resultFail, "metrics endpoint exposes no tradepost_ metrics"}
	}

	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 2: synchronous prediction from request fields
// ---------------------------------------------------------------------------

func scenario2Predict(ctx context.Context, api *client.Client) scenarioResult {
	name := "Scenario 2: Predict"

	verdict, err := api.Predict(ctx, client.PredictRequest{
		SellerID:         1,
		IsVerifiedSeller: true,
		ItemID:           1,
		Name:             "Mountain bike",
		Description:      "Well maintained mountain bike, barely used",
		Category:         3,
		ImagesQty:        4,
	})
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if verdict.Probability < 0 || verdict.Probability > 1 {
		return scenarioResult{name, resultFail,
			fmt.Sprintf("probability %.4f outside [0, 1]", verdict.Probability)}
	}

	return scenarioResult{name, resultPass,
		fmt.Sprintf("is_valid=%t probability=%.4f", verdict.IsValid, verdict.Probability)}
}

// ---------------------------------------------------------------------------
// Scenario 3: synchronous prediction for a stored listing
// ---------------------------------------------------------------------------

func scenario3SimplePredict(ctx context.Context, api *client.Client, itemID int64) scenarioResult {
	name := "Scenario 3: Simple Predict"

	verdict, err := api.SimplePredict(ctx, itemID)
	if err != nil {
		var se *client.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return scenarioResult{name, resultFail,
				fmt.Sprintf("listing %d not found, seed it before running the test", itemID)}
		}
		return scenarioResult{name, resultFail, err.Error()}
	}
	if verdict.Probability < 0 || verdict.Probability > 1 {
		return scenarioResult{name, resultFail,
			fmt.Sprintf("probability %.4f outside [0, 1]", verdict.Probability)}
	}

	return scenarioResult{name, resultPass,
		fmt.Sprintf("is_valid=%t probability=%.4f", verdict.IsValid, verdict.Probability)}
}

// ---------------------------------------------------------------------------
// Scenarios 4-5: async enqueue, worker verdict, repeat read
// ---------------------------------------------------------------------------

func scenario45AsyncPipeline(ctx context.Context, api *client.Client, itemID int64) (scenarioResult, scenarioResult, string) {
	s4Name := "Scenario 4: Async Pipeline"
	s5Name := "Scenario 5: Result Reread"

	failBoth := func(reason string) (scenarioResult, scenarioResult, string) {
		return scenarioResult{s4Name, resultFail, reason},
			scenarioResult{s5Name, resultFail, "skipped: pipeline failed"},
			""
	}

	start := time.Now()
	ack, err := api.AsyncPredict(ctx, itemID)
	if err != nil {
		return failBoth(fmt.Sprintf("async_predict: %v", err))
	}
	if ack.TaskID == "" {
		return failBoth("async_predict returned no task_id")
	}
	if ack.Status != "pending" {
		return failBoth(fmt.Sprintf("expected pending ack, got %q", ack.Status))
	}

	// Wait for the worker to consume the task and persist a verdict.
	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
	defer waitCancel()

	res, err := api.WaitForResult(waitCtx, ack.TaskID, 200*time.Millisecond)
	if err != nil {
		return failBoth(fmt.Sprintf("waiting for verdict: %v (is the worker running?)", err))
	}
	elapsed := time.Since(start)

	if res.Status != "completed" {
		return failBoth(fmt.Sprintf("task ended %q after %s", res.Status, elapsed.Round(time.Millisecond)))
	}
	if res.IsViolation == nil || res.Probability == nil {
		return failBoth("completed verdict has null is_violation or probability")
	}

	s4 := scenarioResult{s4Name, resultPass,
		fmt.Sprintf("verdict in %s, is_violation=%t", elapsed.Round(time.Millisecond), *res.IsViolation)}

	// Scenario 5: a second read must return the same terminal verdict. This
	// read is served from the result cache when Redis is up.
	again, err := api.Result(ctx, ack.TaskID)
	if err != nil {
		return s4, scenarioResult{s5Name, resultFail, fmt.Sprintf("reread: %v", err)}, ack.TaskID
	}
	if again.Status != res.Status || again.IsViolation == nil || *again.IsViolation != *res.IsViolation {
		return s4, scenarioResult{s5Name, resultFail, "reread returned a different verdict"}, ack.TaskID
	}

	return s4, scenarioResult{s5Name, resultPass, ""}, ack.TaskID
}

// ---------------------------------------------------------------------------
// Scenario 6: input validation and not-found responses
// ---------------------------------------------------------------------------

func scenario6Validation(ctx context.Context, api *client.Client) scenarioResult {
	name := "Scenario 6: Input Validation"

	// Zero item id is rejected before any lookup.
	_, err := api.SimplePredict(ctx, 0)
	if msg := expectStatus(err, http.StatusBadRequest); msg != "" {
		return scenarioResult{name, resultFail, "item_id=0: " + msg}
	}

	// Malformed task id.
	_, err = api.Result(ctx, "42")
	if msg := expectStatus(err, http.StatusBadRequest); msg != "" {
		return scenarioResult{name, resultFail, "task_id=42: " + msg}
	}

	// Well-formed but unknown task id.
	_, err = api.Result(ctx, "00000000-0000-0000-0000-000000000000")
	if msg := expectStatus(err, http.StatusNotFound); msg != "" {
		return scenarioResult{name, resultFail, "unknown task: " + msg}
	}

	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 7: closing the ad (optional, destructive)
// ---------------------------------------------------------------------------

func scenario7CloseAd(ctx context.Context, api *client.Client, itemID int64, taskID string, enabled bool) scenarioResult {
	name := "Scenario 7: Close Ad"

	if !enabled {
		return scenarioResult{name, resultInfo, "skipped, pass -close to enable"}
	}

	closed, err := api.CloseAd(ctx, itemID)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("close: %v", err)}
	}
	if closed.ItemID != itemID {
		return scenarioResult{name, resultFail,
			fmt.Sprintf("close acknowledged item %d, want %d", closed.ItemID, itemID)}
	}

	// A second close must report the ad as gone.
	_, err = api.CloseAd(ctx, itemID)
	if msg := expectStatus(err, http.StatusNotFound); msg != "" {
		return scenarioResult{name, resultFail, "second close: " + msg}
	}

	// Closing erases the listing's moderation tasks, including cached
	// results, so the scenario 4 task must no longer resolve.
	if taskID != "" {
		_, err = api.Result(ctx, taskID)
		if msg := expectStatus(err, http.StatusNotFound); msg != "" {
			return scenarioResult{name, resultFail, "task after close: " + msg}
		}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("item %d closed", itemID)}
}

// expectStatus returns an empty string when err is a *client.StatusError with
// the wanted code, and a human-readable mismatch description otherwise.
func expectStatus(err error, want int) string {
	if err == nil {
		return fmt.Sprintf("expected status %d, got success", want)
	}
	var se *client.StatusError
	if !errors.As(err, &se) {
		return fmt.Sprintf("expected status %d, got: %v", want, err)
	}
	if se.Code != want {
		return fmt.Sprintf("expected status %d, got %d (%s)", want, se.Code, se.Detail)
	}
	return ""
}
