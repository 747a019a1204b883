// Package xfetcher wraps an external X/Twitter CLI tool as the XFetcherClient
// collaborator consumed by internal/infra/fetcher's X source.
package xfetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"marketpulse/internal/infra/fetcher"
	"marketpulse/internal/resilience/circuitbreaker"
)

// Runner shells out to a command-line tool that crawls X/Twitter and prints
// a JSON array of records to stdout.
type Runner struct {
	binaryPath     string
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// New builds a Runner invoking binaryPath (e.g. a vendored "twscrape"-style
// CLI) with "--url <sourceURL> --pages <pages>" arguments.
func New(binaryPath string) *Runner {
	return &Runner{
		binaryPath:     binaryPath,
		circuitBreaker: circuitbreaker.New(circuitbreaker.XFetcherConfig()),
	}
}

type xRecordWire struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Run executes the X CLI tool with the given page depth, honoring ctx's
// deadline and the explicit deadline argument (the stricter of the two
// applies since exec.CommandContext kills on ctx cancellation).
func (r *Runner) Run(ctx context.Context, sourceURL string, pages int, deadline time.Time) ([]fetcher.XRecord, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	cbResult, err := r.circuitBreaker.Execute(func() (interface{}, error) {
		return r.exec(ctx, sourceURL, pages)
	})
	if err != nil {
		return nil, fmt.Errorf("xfetcher: run: %w", err)
	}
	return cbResult.([]fetcher.XRecord), nil
}

func (r *Runner) exec(ctx context.Context, sourceURL string, pages int) ([]fetcher.XRecord, error) {
	cmd := exec.CommandContext(ctx, r.binaryPath, "--url", sourceURL, "--pages", fmt.Sprintf("%d", pages), "--format", "json")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("x cli failed: %w (stderr: %s)", err, stderr.String())
	}

	var wire []xRecordWire
	if err := json.Unmarshal(stdout.Bytes(), &wire); err != nil {
		return nil, fmt.Errorf("x cli output decode: %w", err)
	}

	records := make([]fetcher.XRecord, 0, len(wire))
	for _, w := range wire {
		records = append(records, fetcher.XRecord{
			Title:       w.Title,
			Body:        w.Body,
			URL:         w.URL,
			PublishedAt: w.PublishedAt,
		})
	}
	return records, nil
}
