package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tradepost/moderation/loadtest/client"
	"github.com/tradepost/moderation/loadtest/stats"
)

// runPredict implements the synchronous prediction throughput test. A bounded
// pool of workers sends POST /predict requests, cycling through a configurable
// number of distinct feature combinations so both the scoring engine and the
// feature cache see traffic. Repeated combinations produce cache hits, which
// show up in the scraped server metrics.
func runPredict(args []string) {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	apiURL := fs.String("url", "http://localhost:8080", "Moderation API base URL")
	requests := fs.Int("requests", 10000, "Number of predict requests to send")
	concurrency := fs.Int("concurrency", 50, "Number of concurrent workers")
	variants := fs.Int("variants", 200, "Number of distinct feature combinations to cycle through")
	metricsURL := fs.String("metrics", "", "Metrics endpoint to scrape (default: <url>/metrics, \"off\" disables)")
	fs.Parse(args)

	if *variants < 1 {
		*variants = 1
	}

	scrapeURL := *metricsURL
	switch scrapeURL {
	case "":
		scrapeURL = *apiURL + "/metrics"
	case "off":
		scrapeURL = ""
	}

	fmt.Printf("Predict test: %d requests to %s (concurrency=%d, variants=%d)\n",
		*requests, *apiURL, *concurrency, *variants)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if scrapeURL != "" {
		scraper := stats.NewScraper(scrapeURL, 2*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	api := client.New(*apiURL, 10*time.Second)

	// Progress reporting: every 1 second while requests are in flight.
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
				current := collector.RequestCount()
				errs := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(current-lastCount) / dt
				fmt.Printf("  [predict] requests: %d/%d  errors: %d  rate: %.1f req/s\n",
					current, *requests, errs, rate)
				lastCount = current
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	// Worker pool consuming request indexes.
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					continue
				}
				start := time.Now()
				if _, err := api.Predict(ctx, predictVariant(idx%*variants)); err != nil {
					collector.AddError()
					continue
				}
				collector.AddRequest(time.Since(start))
			}
		}()
	}

sendLoop:
	for i := 0; i < *requests; i++ {
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

// predictVariant builds a deterministic feature combination for the given
// variant index. Description length, category, image count, and seller
// verification all vary so the variants map to distinct feature cache keys.
func predictVariant(i int) client.PredictRequest {
	return client.PredictRequest{
		SellerID:         int64(1000 + i),
		IsVerifiedSeller: i%2 == 0,
		ItemID:           int64(1 + i),
		Name:             fmt.Sprintf("Listing %d", i),
		Description:      strings.Repeat("x", 20+i%120),
		Category:         i % 10,
		ImagesQty:        i % 11,
	}
}
