package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sampleFeedXML = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
<title>Sample Feed</title>
<item>
<title>Complete entry</title>
<link>https://example.com/a</link>
<description>body a</description>
<pubDate>Mon, 01 Jan 2026 00:00:00 GMT</pubDate>
</item>
<item>
<title>Missing link</title>
<description>body b</description>
<pubDate>Mon, 01 Jan 2026 00:00:00 GMT</pubDate>
</item>
<item>
<title>Missing publish time</title>
<link>https://example.com/c</link>
<description>body c</description>
</item>
</channel>
</rss>`

func TestRSSFetcher_DoFetch_DropsEntriesMissingURLOrPublishTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeedXML))
	}))
	defer server.Close()

	f := NewRSSFetcher(server.Client())
	items, err := f.doFetch(context.Background(), "feed-a", server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", len(items))
	}
	if items[0].Title != "Complete entry" {
		t.Errorf("expected the complete entry to survive, got %q", items[0].Title)
	}
	if items[0].URL == "" {
		t.Error("expected a non-empty URL")
	}
	if items[0].PublishedAt.IsZero() {
		t.Error("expected a non-zero PublishedAt")
	}
}
