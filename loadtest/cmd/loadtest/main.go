// Package main is the entry point for the moderation load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - predict:  synchronous prediction throughput test
//   - pipeline: asynchronous moderation pipeline test
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "predict":
		runPredict(os.Args[2:])
	case "pipeline":
		runPipeline(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  predict     Prediction throughput test: hammers POST /predict with varied features")
	fmt.Println("  pipeline    Pipeline test: enqueues async tasks and waits for worker verdicts")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
