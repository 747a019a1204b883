package fetcher

import (
	"testing"
	"time"
)

func TestXFetcher_PageCount_NoWatermark(t *testing.T) {
	f := NewXFetcher(nil, 6, 3, 0)
	now := time.Now()
	if got := f.PageCount(now, nil); got != 3 {
		t.Errorf("PageCount() with no watermark = %d, want 3", got)
	}
}

func TestXFetcher_PageCount_EightHoursSince(t *testing.T) {
	f := NewXFetcher(nil, 6, 3, 0)
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	latest := now.Add(-8 * time.Hour)
	// ceil(8/6) = 2
	if got := f.PageCount(now, &latest); got != 2 {
		t.Errorf("PageCount() = %d, want 2", got)
	}
}

func TestXFetcher_PageCount_ClampedToMax(t *testing.T) {
	f := NewXFetcher(nil, 6, 3, 0)
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	latest := now.Add(-100 * time.Hour)
	if got := f.PageCount(now, &latest); got != 3 {
		t.Errorf("PageCount() = %d, want clamped to 3", got)
	}
}
