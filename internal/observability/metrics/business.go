package metrics

import (
	"fmt"
	"time"
)

// RecordItemsFetched records the number of items fetched from a source.
// This metric helps track source crawl performance and source activity.
func RecordItemsFetched(sourceName string, sourceID int64, count int) {
	ItemsFetchedTotal.WithLabelValues(
		sourceName,
		fmt.Sprintf("%d", sourceID),
	).Add(float64(count))
}

// RecordAnalysisCompleted records the result of an LLM analysis run.
func RecordAnalysisCompleted(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	AnalysisRunsTotal.WithLabelValues(status).Inc()
}

// RecordAnalysisDuration records the time taken to analyze a batch of items.
// This helps identify performance issues with the LLM analysis provider.
func RecordAnalysisDuration(duration time.Duration) {
	AnalysisDuration.Observe(duration.Seconds())
}

// RecordAnalysisResultDropped records count results discarded during
// normalization for the given reason (e.g. "invalid_source").
func RecordAnalysisResultDropped(reason string, count int) {
	if count <= 0 {
		return
	}
	AnalysisResultsDroppedTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordSourceFetch records metrics for a single source fetch operation.
func RecordSourceFetch(sourceID int64, duration time.Duration, itemsFound, itemsInserted, itemsDuplicated int64) {
	SourceFetchDuration.WithLabelValues(
		fmt.Sprintf("%d", sourceID),
	).Observe(duration.Seconds())

	if itemsFound > 0 {
		RecordItemsFetched("", sourceID, int(itemsFound))
	}
}

// RecordSourceFetchError records an error during source fetching.
func RecordSourceFetchError(sourceID int64, errorType string) {
	SourceFetchErrors.WithLabelValues(
		fmt.Sprintf("%d", sourceID),
		errorType,
	).Inc()
}

// UpdateItemsTotal updates the total count of ingested items in the database.
// This gauge should be updated periodically to reflect the current state.
func UpdateItemsTotal(count int) {
	ItemsTotal.Set(float64(count))
}

// UpdateSourcesTotal updates the total count of configured sources.
// This gauge should be updated periodically to reflect the current state.
func UpdateSourcesTotal(count int) {
	SourcesTotal.Set(float64(count))
}

// RecordContentFetchSuccess records a successful content fetch operation.
// This tracks both the duration and size of fetched content.
//
// Example:
//
//	start := time.Now()
//	content, err := fetcher.FetchContent(ctx, url)
//	if err == nil {
//	    RecordContentFetchSuccess(time.Since(start), len(content))
//	}
func RecordContentFetchSuccess(duration time.Duration, size int) {
	ContentFetchAttemptsTotal.WithLabelValues("success").Inc()
	ContentFetchDuration.Observe(duration.Seconds())
	ContentFetchSize.Observe(float64(size))
}

// RecordContentFetchFailed records a failed content fetch operation.
//
// Example:
//
//	start := time.Now()
//	_, err := fetcher.FetchContent(ctx, url)
//	if err != nil {
//	    RecordContentFetchFailed(time.Since(start))
//	}
func RecordContentFetchFailed(duration time.Duration) {
	ContentFetchAttemptsTotal.WithLabelValues("failure").Inc()
	ContentFetchDuration.Observe(duration.Seconds())
}

// RecordContentFetchSkipped records a skipped content fetch operation.
// This occurs when the feed's inline summary is sufficient and fetching the
// full page is unnecessary.
//
// Example:
//
//	if len(feedSummary) >= threshold {
//	    RecordContentFetchSkipped()
//	    return feedSummary
//	}
func RecordContentFetchSkipped() {
	ContentFetchAttemptsTotal.WithLabelValues("skipped").Inc()
}

// RecordDBQuery records the duration of a database query operation.
// Operation should describe the query type (e.g., "select_items", "insert_item").
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBConnectionStats updates database connection pool statistics.
func UpdateDBConnectionStats(active, idle int) {
	DBConnectionsActive.Set(float64(active))
	DBConnectionsIdle.Set(float64(idle))
}
