// Package report implements the Reporter: rendering a RunReport into one or
// more messenger-sized text segments, grouped by dynamic category.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"marketpulse/internal/domain/entity"
	"marketpulse/internal/utils/text"
)

// DefaultMaxMessageChars bounds a single rendered segment.
const DefaultMaxMessageChars = 4096

// DefaultDisplayLocation is the timezone report timestamps are rendered in.
var DefaultDisplayLocation = time.FixedZone("UTC+8", 8*60*60)

// Service renders RunReports into segments.
type Service struct {
	maxChars int
	location *time.Location
}

// NewService builds a report Service. maxChars of zero uses
// DefaultMaxMessageChars; a nil location uses DefaultDisplayLocation.
func NewService(maxChars int, location *time.Location) *Service {
	if maxChars <= 0 {
		maxChars = DefaultMaxMessageChars
	}
	if location == nil {
		location = DefaultDisplayLocation
	}
	return &Service{maxChars: maxChars, location: location}
}

// Render produces the full entry text for a report, then splits it into
// segments bounded by maxChars, never breaking mid-entry: it prefers to
// split at section boundaries, falling back to entry boundaries when a
// single section would overflow a segment on its own.
func (s *Service) Render(report entity.RunReport) []string {
	sections := s.buildSections(report)
	header := s.renderHeader(report)

	var blocks []string
	blocks = append(blocks, header)
	blocks = append(blocks, sections...)

	return s.splitIntoSegments(blocks)
}

func (s *Service) renderHeader(report entity.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market Intelligence Report\n%s - %s\n\n",
		report.WindowStart.In(s.location).Format("2006-01-02 15:04"),
		report.WindowEnd.In(s.location).Format("2006-01-02 15:04"))

	b.WriteString("Source status:\n")
	for _, cr := range report.CrawlResults {
		if cr.Status == entity.CrawlStatusOK {
			fmt.Fprintf(&b, "  [ok] %s: %d items\n", cr.SourceName, cr.ItemCount)
		} else {
			fmt.Fprintf(&b, "  [error] %s: %s\n", cr.SourceName, cr.ErrorMessage)
		}
	}
	return b.String()
}

func (s *Service) buildSections(report entity.RunReport) []string {
	byCategory := make(map[string][]entity.AnalysisResult)
	maxWeight := make(map[string]int)
	for _, r := range report.AnalysisResults {
		byCategory[r.Category] = append(byCategory[r.Category], r)
		if r.WeightScore > maxWeight[r.Category] {
			maxWeight[r.Category] = r.WeightScore
		}
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.SliceStable(categories, func(i, j int) bool {
		if maxWeight[categories[i]] != maxWeight[categories[j]] {
			return maxWeight[categories[i]] > maxWeight[categories[j]]
		}
		return categories[i] < categories[j]
	})

	sections := make([]string, 0, len(categories))
	for _, category := range categories {
		var b strings.Builder
		fmt.Fprintf(&b, "\n--- %s ---\n", escapeHTML(category))
		for _, r := range byCategory[category] {
			b.WriteString(s.renderEntry(r))
		}
		sections = append(sections, b.String())
	}
	return sections
}

// entryOverhead is reserved headroom for an entry's formatting and source
// links, so a truncated title+body still leaves room for renderEntry's own
// markup without itself exceeding maxChars.
const entryOverhead = 300

func (s *Service) renderEntry(r entity.AnalysisResult) string {
	title := text.Truncate(r.Title, 200)
	body := text.Truncate(r.Body, s.maxChars-entryOverhead)

	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s\n%s\n", r.WeightScore, escapeHTML(title), escapeHTML(body))
	if r.Source != "" {
		fmt.Fprintf(&b, "source: %s", renderLink(r.Source, r.Source))
		if len(r.RelatedSources) > 0 {
			links := make([]string, len(r.RelatedSources))
			for i, related := range r.RelatedSources {
				links[i] = renderLink(related, fmt.Sprintf("[%d]", i+1))
			}
			fmt.Fprintf(&b, " related: %s", strings.Join(links, " "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// escapeHTML escapes the three characters Telegram's HTML parse mode treats
// as markup so that analysis text can never be interpreted as a tag.
func escapeHTML(s string) string {
	return htmlTextReplacer.Replace(s)
}

// escapeHTMLAttr additionally escapes the double quote that delimits an
// href attribute value.
func escapeHTMLAttr(s string) string {
	return htmlAttrReplacer.Replace(s)
}

var (
	htmlTextReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	htmlAttrReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// renderLink builds a Telegram HTML hyperlink, escaping both the href and
// the visible label.
func renderLink(rawURL, label string) string {
	return fmt.Sprintf(`<a href="%s">%s</a>`, escapeHTMLAttr(rawURL), escapeHTML(label))
}

// splitIntoSegments packs blocks (header + sections) into segments bounded
// by maxChars. A block that alone exceeds maxChars is split at its entry
// boundaries (double-newline), never mid-entry.
func (s *Service) splitIntoSegments(blocks []string) []string {
	var segments []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
	}

	for _, block := range blocks {
		if text.CountRunes(block) > s.maxChars {
			flush()
			segments = append(segments, s.splitOversizedBlock(block)...)
			continue
		}
		if current.Len() > 0 && text.CountRunes(current.String())+text.CountRunes(block) > s.maxChars {
			flush()
		}
		current.WriteString(block)
	}
	flush()

	if len(segments) == 0 {
		segments = append(segments, "")
	}
	return segments
}

func (s *Service) splitOversizedBlock(block string) []string {
	entries := strings.Split(block, "\n\n")
	var segments []string
	var current strings.Builder

	for _, entry := range entries {
		piece := entry + "\n\n"
		if current.Len() > 0 && text.CountRunes(current.String())+text.CountRunes(piece) > s.maxChars {
			segments = append(segments, current.String())
			current.Reset()
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}
