package entity

import (
	"fmt"
	"time"
)

// SourceDescriptor describes a configured ingestion source. Names are unique
// within a kind. KindParams carries kind-specific configuration (feed URL for
// rss, source_url for x, endpoint+mapping for rest) as a loosely typed
// map so the registry does not need to know every kind's shape.
type SourceDescriptor struct {
	Name       string
	Kind       SourceKind
	KindParams map[string]any
}

// Validate checks that a SourceDescriptor carries a known kind and a name.
func (s SourceDescriptor) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Message: "source name is required"}
	}
	switch s.Kind {
	case SourceKindRSS, SourceKindX, SourceKindREST:
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown source kind %q", s.Kind)}
	}
	return nil
}

// SourceWatermark tracks, per (source_name, kind), the maximum published_at
// ever observed. It governs fetch depth, never analysis scope.
type SourceWatermark struct {
	SourceName        string
	Kind              SourceKind
	LatestPublishedAt *time.Time
}
