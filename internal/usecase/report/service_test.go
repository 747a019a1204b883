package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketpulse/internal/domain/entity"
)

func TestService_Render_SingleSegment(t *testing.T) {
	svc := NewService(0, nil)
	now := time.Now()
	report := entity.RunReport{
		WindowStart: now.Add(-6 * time.Hour),
		WindowEnd:   now,
		CrawlResults: []entity.CrawlResult{
			{SourceName: "feed-a", Status: entity.CrawlStatusOK, ItemCount: 3},
		},
		AnalysisResults: []entity.AnalysisResult{
			{Category: "Macro", WeightScore: 80, Title: "Fed holds rates", Body: "summary", Source: "feed-a"},
		},
	}

	segments := svc.Render(report)
	require.Len(t, segments, 1)
	require.Contains(t, segments[0], "Macro")
	require.Contains(t, segments[0], "Fed holds rates")
	require.Contains(t, segments[0], "feed-a")
}

func TestService_Render_SplitsOversizedSection(t *testing.T) {
	svc := NewService(200, nil)
	now := time.Now()

	var results []entity.AnalysisResult
	for i := 0; i < 10; i++ {
		results = append(results, entity.AnalysisResult{
			Category:    "Macro",
			WeightScore: 50,
			Title:       strings.Repeat("x", 50),
			Body:        strings.Repeat("y", 50),
			Source:      "feed-a",
		})
	}

	report := entity.RunReport{WindowStart: now.Add(-time.Hour), WindowEnd: now, AnalysisResults: results}
	segments := svc.Render(report)

	require.Greater(t, len(segments), 1)
	for _, seg := range segments {
		require.LessOrEqual(t, len([]rune(seg)), 200)
	}
}

func TestService_Render_SectionsOrderedByMaxWeightDescending(t *testing.T) {
	svc := NewService(0, nil)
	now := time.Now()
	report := entity.RunReport{
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now,
		AnalysisResults: []entity.AnalysisResult{
			{Category: "Alpha", WeightScore: 10, Title: "low", Body: "b", Source: "https://example.com/a"},
			{Category: "Zeta", WeightScore: 90, Title: "high", Body: "b", Source: "https://example.com/z"},
			{Category: "Macro", WeightScore: 50, Title: "mid", Body: "b", Source: "https://example.com/m"},
		},
	}

	segments := svc.Render(report)
	require.Len(t, segments, 1)
	body := segments[0]

	zetaIdx := strings.Index(body, "--- Zeta ---")
	macroIdx := strings.Index(body, "--- Macro ---")
	alphaIdx := strings.Index(body, "--- Alpha ---")
	require.True(t, zetaIdx >= 0 && macroIdx >= 0 && alphaIdx >= 0)
	require.Less(t, zetaIdx, macroIdx, "the section with the highest max weight_score (Zeta) must come first")
	require.Less(t, macroIdx, alphaIdx, "Macro (weight 50) must come before Alpha (weight 10)")
}

func TestService_Render_SourceRenderedAsHyperlink(t *testing.T) {
	svc := NewService(0, nil)
	now := time.Now()
	report := entity.RunReport{
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now,
		AnalysisResults: []entity.AnalysisResult{
			{
				Category:       "Macro",
				WeightScore:    80,
				Title:          "Fed holds rates",
				Body:           "summary",
				Source:         "https://example.com/a",
				RelatedSources: []string{"https://example.com/b", "https://example.com/c"},
			},
		},
	}

	segments := svc.Render(report)
	require.Len(t, segments, 1)
	require.Contains(t, segments[0], `<a href="https://example.com/a">https://example.com/a</a>`)
	require.Contains(t, segments[0], `<a href="https://example.com/b">[1]</a>`)
	require.Contains(t, segments[0], `<a href="https://example.com/c">[2]</a>`)
}

func TestService_Render_EscapesHTMLSpecialCharacters(t *testing.T) {
	svc := NewService(0, nil)
	now := time.Now()
	report := entity.RunReport{
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now,
		AnalysisResults: []entity.AnalysisResult{
			{
				Category: "Macro",
				WeightScore: 80,
				Title:       `<script>alert("x")</script> & Co`,
				Body:        "A < B && B > C",
				Source:      `https://example.com/a?x=1&y=2`,
			},
		},
	}

	segments := svc.Render(report)
	require.Len(t, segments, 1)
	body := segments[0]
	require.NotContains(t, body, "<script>")
	require.Contains(t, body, "&lt;script&gt;")
	require.Contains(t, body, "&amp; Co")
	require.Contains(t, body, "A &lt; B &amp;&amp; B &gt; C")
	require.Contains(t, body, `href="https://example.com/a?x=1&amp;y=2"`)
}

func TestService_Render_NoCategoriesStillHasHeader(t *testing.T) {
	svc := NewService(0, nil)
	now := time.Now()
	report := entity.RunReport{WindowStart: now.Add(-time.Hour), WindowEnd: now}

	segments := svc.Render(report)
	require.Len(t, segments, 1)
	require.Contains(t, segments[0], "Market Intelligence Report")
}
