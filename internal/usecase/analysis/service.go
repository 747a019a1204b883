// Package analysis implements the Analyzer: a batched LLM pass over a
// window of items that filters, classifies, scores, and summarizes them
// against market context.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"marketpulse/internal/domain/entity"
	"marketpulse/internal/infra/llm"
	"marketpulse/internal/observability/metrics"
)

const (
	// DefaultMaxRetries bounds structured-output validation retries.
	DefaultMaxRetries = 2
	// DefaultTimeout bounds a single analysis attempt.
	DefaultTimeout = 180 * time.Second

	systemPrompt = "You are a crypto market intelligence analyst. Given a" +
		" list of raw news items, the current market context, and a digest" +
		" of already-reported items, select the items worth reporting," +
		" classify each into a short category, score its importance 0-100," +
		" and write a one or two sentence summary. Respond with a JSON" +
		" array only, no prose, where each element has the fields: time," +
		" category, weight_score, title, body, source, related_sources."
)

// Service implements the Analyzer.
type Service struct {
	client     llm.Client
	model      string
	maxRetries int
	timeout    time.Duration
}

// NewService builds an analysis Service. maxRetries/timeout of zero use
// package defaults.
func NewService(client llm.Client, model string, maxRetries int, timeout time.Duration) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{client: client, model: model, maxRetries: maxRetries, timeout: timeout}
}

type wireItem struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
	Source      string `json:"source"`
}

type wireResult struct {
	Time           string   `json:"time"`
	Category       string   `json:"category"`
	WeightScore    int      `json:"weight_score"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	Source         string   `json:"source"`
	RelatedSources []string `json:"related_sources"`
}

// Analyze runs the filter/classify/score/summarize pass over items, using
// snapshotText as market context and sentSummary as the outdated-news
// digest to avoid re-reporting. It retries up to maxRetries times on
// structured-output validation failure, returning an empty, valid result
// set if every attempt fails (never an error for this reason alone).
func (s *Service) Analyze(ctx context.Context, items []entity.Item, snapshotText, sentSummary string) ([]entity.AnalysisResult, error) {
	if len(items) == 0 {
		return nil, nil
	}

	basePrompt := s.buildUserPrompt(items, snapshotText, sentSummary)

	var lastErr error
	var lastInvalidText string
	for attempt := 1; attempt <= s.maxRetries+1; attempt++ {
		prompt := basePrompt
		if lastInvalidText != "" {
			prompt = buildRetryPrompt(basePrompt, lastInvalidText, lastErr)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		text, err := s.client.Complete(attemptCtx, s.model, systemPrompt, prompt, nil)
		cancel()
		if err != nil {
			lastErr = err
			lastInvalidText = ""
			if ctx.Err() != nil {
				return nil, fmt.Errorf("analysis: cancelled: %w", ctx.Err())
			}
			slog.WarnContext(ctx, "analysis llm call failed, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}

		results, dropped, err := parseAndNormalize(text)
		if err != nil {
			lastErr = err
			lastInvalidText = text
			slog.WarnContext(ctx, "analysis output failed validation, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}
		if dropped > 0 {
			metrics.RecordAnalysisResultDropped("invalid_source", dropped)
			slog.WarnContext(ctx, "analysis dropped results with a non-URL source", slog.Int("dropped", dropped))
		}
		return results, nil
	}

	slog.ErrorContext(ctx, "analysis exhausted retries, returning empty result set", slog.Any("last_error", lastErr))
	return nil, nil
}

// buildRetryPrompt appends the prior invalid response and the validation
// error it produced so the model can correct itself, per the retry contract.
func buildRetryPrompt(basePrompt, invalidText string, validationErr error) string {
	return fmt.Sprintf(
		"%s\n\nYour previous response failed validation with error: %v\nPrevious invalid response:\n%s\n\nRespond again with corrected JSON only.",
		basePrompt, validationErr, invalidText)
}

func (s *Service) buildUserPrompt(items []entity.Item, snapshotText, sentSummary string) string {
	wire := make([]wireItem, 0, len(items))
	for _, it := range items {
		wire = append(wire, wireItem{
			Title:       it.Title,
			Body:        it.Body,
			URL:         it.URL,
			PublishedAt: it.PublishedAt.UTC().Format(time.RFC3339),
			Source:      it.SourceName,
		})
	}
	itemsJSON, _ := json.Marshal(wire)

	return fmt.Sprintf(
		"MARKET CONTEXT:\n%s\n\nALREADY REPORTED (avoid repeating these):\n%s\n\nITEMS:\n%s",
		snapshotText, sentSummary, string(itemsJSON))
}

func parseAndNormalize(text string) ([]entity.AnalysisResult, int, error) {
	jsonText := extractJSONArray(text)
	var wire []wireResult
	if err := json.Unmarshal([]byte(jsonText), &wire); err != nil {
		return nil, 0, fmt.Errorf("analysis: decode structured output: %w", err)
	}

	results := make([]entity.AnalysisResult, 0, len(wire))
	dropped := 0
	for _, w := range wire {
		if !isValidSourceURL(w.Source) {
			dropped++
			continue
		}
		results = append(results, entity.AnalysisResult{
			Time:           w.Time,
			Category:       entity.NormalizeCategory(w.Category),
			WeightScore:    entity.ClampWeightScore(w.WeightScore),
			Title:          w.Title,
			Body:           w.Body,
			Source:         w.Source,
			RelatedSources: w.RelatedSources,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].WeightScore != results[j].WeightScore {
			return results[i].WeightScore > results[j].WeightScore
		}
		return results[i].Time > results[j].Time
	})
	return results, dropped, nil
}

// isValidSourceURL reports whether raw parses as an absolute URL with a
// scheme and host, the minimum required for source to be a usable hyperlink.
func isValidSourceURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// extractJSONArray trims any leading/trailing prose a model may emit
// despite instructions, returning the substring spanning the first '[' to
// the last ']'.
func extractJSONArray(text string) string {
	start := -1
	end := -1
	for i, r := range text {
		if r == '[' && start == -1 {
			start = i
		}
		if r == ']' {
			end = i
		}
	}
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
