package entity

import "time"

// CrawlStatus is the outcome of fetching a single source.
type CrawlStatus string

const (
	CrawlStatusOK    CrawlStatus = "ok"
	CrawlStatusError CrawlStatus = "error"
)

// CrawlResult summarizes the outcome of fetching one source during a run.
type CrawlResult struct {
	SourceName   string
	Kind         SourceKind
	Status       CrawlStatus
	ItemCount    int
	ErrorMessage string
}

// RunReport is the full output of one coordinator run, consumed by the
// Reporter to produce rendered segments.
type RunReport struct {
	WindowStart       time.Time
	WindowEnd         time.Time
	GeneratedAt       time.Time
	CrawlResults      []CrawlResult
	AnalysisResults   []AnalysisResult
	CategoriesPresent []string
}
