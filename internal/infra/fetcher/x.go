package fetcher

import (
	"context"
	"fmt"
	"math"
	"time"

	"marketpulse/internal/domain/entity"
)

// XRecord is one post returned by the XFetcher collaborator.
type XRecord struct {
	Title       string
	Body        string
	URL         string
	PublishedAt time.Time
}

// XFetcherClient is the external collaborator that shells out to (or
// otherwise drives) the X/Twitter CLI tool. Implemented by
// internal/infra/xfetcher.
type XFetcherClient interface {
	Run(ctx context.Context, sourceURL string, pages int, deadline time.Time) ([]XRecord, error)
}

const (
	// DefaultPageHourUnit is how many hours of staleness map to one extra
	// fetch page.
	DefaultPageHourUnit = 6
	// DefaultMaxPagesLimit bounds how deep a single crawl will page back.
	DefaultMaxPagesLimit = 3
	// DefaultXFetchTimeout bounds a single X crawl.
	DefaultXFetchTimeout = 300 * time.Second
)

// XFetcher adapts an XFetcherClient into the Fetcher interface, computing
// the adaptive page depth from the source's watermark.
type XFetcher struct {
	client       XFetcherClient
	pageHourUnit int
	maxPages     int
	timeout      time.Duration
}

// NewXFetcher builds an XFetcher with the given page-depth tuning.
func NewXFetcher(client XFetcherClient, pageHourUnit, maxPages int, timeout time.Duration) *XFetcher {
	if pageHourUnit <= 0 {
		pageHourUnit = DefaultPageHourUnit
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPagesLimit
	}
	if timeout <= 0 {
		timeout = DefaultXFetchTimeout
	}
	return &XFetcher{client: client, pageHourUnit: pageHourUnit, maxPages: maxPages, timeout: timeout}
}

// Kind identifies this fetcher as the x source kind.
func (f *XFetcher) Kind() entity.SourceKind { return entity.SourceKindX }

// Validate checks that params carries a "source_url" string.
func (f *XFetcher) Validate(params map[string]any) error {
	sourceURL, ok := params["source_url"].(string)
	if !ok || sourceURL == "" {
		return fmt.Errorf("x source requires a non-empty source_url")
	}
	return nil
}

// PageCount computes pages = min(ceil(hours_since_latest / page_hour_unit),
// max_pages_limit). With no watermark, it returns max_pages_limit.
func (f *XFetcher) PageCount(now time.Time, latest *time.Time) int {
	if latest == nil {
		return f.maxPages
	}
	hoursSince := now.Sub(*latest).Hours()
	if hoursSince <= 0 {
		return 1
	}
	pages := int(math.Ceil(hoursSince / float64(f.pageHourUnit)))
	if pages < 1 {
		pages = 1
	}
	if pages > f.maxPages {
		pages = f.maxPages
	}
	return pages
}

// Fetch runs the X CLI wrapper for the configured page depth and converts
// the results to candidate items.
func (f *XFetcher) Fetch(ctx context.Context, source entity.SourceDescriptor, windowHours int, hints Hints) ([]entity.Item, error) {
	sourceURL, _ := source.KindParams["source_url"].(string)
	pages := f.PageCount(hints.Now, hints.LatestPublishedAt)

	deadline := hints.Now.Add(f.timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	records, err := f.client.Run(ctx, sourceURL, pages, deadline)
	if err != nil {
		return nil, fmt.Errorf("x fetch %s: %w", source.Name, err)
	}

	items := make([]entity.Item, 0, len(records))
	for _, r := range records {
		items = append(items, entity.NewItem(r.Title, r.Body, r.URL, r.PublishedAt, source.Name, entity.SourceKindX))
	}
	return items, nil
}
