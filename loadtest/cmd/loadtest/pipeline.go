package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tradepost/moderation/loadtest/client"
	"github.com/tradepost/moderation/loadtest/stats"
)

// runPipeline implements the asynchronous pipeline test. Each worker enqueues
// a moderation task with POST /async_predict and then polls the result
// endpoint until the worker process publishes a terminal verdict. Request
// latency covers the enqueue call; pipeline latency covers enqueue to verdict.
//
// The listing passed with -item must already exist. Server-side metrics are
// scraped from the worker process by default since that is where the task
// counters live.
func runPipeline(args []string) {
	fs := flag.NewFlagSet("pipeline", flag.ExitOnError)
	apiURL := fs.String("url", "http://localhost:8080", "Moderation API base URL")
	itemID := fs.Int64("item", 1, "Existing listing id to moderate")
	tasks := fs.Int("tasks", 500, "Number of moderation tasks to enqueue")
	concurrency := fs.Int("concurrency", 20, "Number of concurrent workers")
	poll := fs.Duration("poll", 200*time.Millisecond, "Result poll interval")
	taskTimeout := fs.Duration("task-timeout", 60*time.Second, "Timeout waiting for one verdict")
	metricsURL := fs.String("metrics", "http://localhost:9090/metrics", "Worker metrics endpoint to scrape (\"off\" disables)")
	fs.Parse(args)

	fmt.Printf("Pipeline test: %d tasks for item %d via %s (concurrency=%d, poll=%s)\n",
		*tasks, *itemID, *apiURL, *concurrency, *poll)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(*apiURL, 10*time.Second)

	// Fail fast when the listing does not exist instead of enqueueing
	// thousands of tasks that will all come back 404.
	preCtx, preCancel := context.WithTimeout(ctx, 10*time.Second)
	_, err := api.SimplePredict(preCtx, *itemID)
	preCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "preflight check failed for item %d: %v\n", *itemID, err)
		os.Exit(1)
	}

	collector := stats.NewCollector()
	if *metricsURL != "off" && *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 2*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	// Progress reporting: every 1 second while tasks are in flight.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				verdicts := collector.PipelineCount()
				errs := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(verdicts-lastCount) / dt
				fmt.Printf("  [pipeline] verdicts: %d/%d  errors: %d  rate: %.1f/s\n",
					verdicts, *tasks, errs, rate)
				lastCount = verdicts
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	// Worker pool: each job is one enqueue-then-wait round trip.
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if ctx.Err() != nil {
					continue
				}
				start := time.Now()
				ack, err := api.AsyncPredict(ctx, *itemID)
				if err != nil {
					collector.AddError()
					continue
				}
				collector.AddRequest(time.Since(start))

				waitCtx, cancel := context.WithTimeout(ctx, *taskTimeout)
				res, err := api.WaitForResult(waitCtx, ack.TaskID, *poll)
				cancel()
				if err != nil {
					collector.AddError()
					continue
				}
				if res.Status != "completed" {
					// The worker dead-lettered the task.
					collector.AddError()
					continue
				}
				collector.AddPipeline(time.Since(start))
			}
		}()
	}

sendLoop:
	for i := 0; i < *tasks; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted.")
			break sendLoop
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	close(progressStop)
	progressWg.Wait()

	collector.Report()
}
