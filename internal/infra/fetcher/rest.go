package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"marketpulse/internal/domain/entity"
	"marketpulse/internal/resilience/circuitbreaker"
	"marketpulse/internal/resilience/retry"
)

// ResponseMapping describes where to find the record array and field names
// within a REST endpoint's JSON response.
type ResponseMapping struct {
	// ArrayPath is a dotted path to the array of records; empty means the
	// top-level response body is itself the array.
	ArrayPath string
	TitleKey  string
	BodyKey   string
	URLKey    string
	TimeKey   string
	TimeLayout string
}

// RESTFetcher fetches one endpoint per source and maps the response into
// items according to its ResponseMapping. If the response is not JSON, it
// falls back to goquery to extract <article>/<li> fragments.
type RESTFetcher struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// NewRESTFetcher builds a RESTFetcher using the given HTTP client.
func NewRESTFetcher(client *http.Client) *RESTFetcher {
	return &RESTFetcher{
		client:         client,
		circuitBreaker: circuitbreaker.New(circuitbreaker.WebScraperConfig()),
		retryConfig:    retry.RESTFetchConfig(),
	}
}

// Kind identifies this fetcher as the rest source kind.
func (f *RESTFetcher) Kind() entity.SourceKind { return entity.SourceKindREST }

// Validate checks that params carries an "endpoint" string and validates it
// for SSRF safety.
func (f *RESTFetcher) Validate(params map[string]any) error {
	endpoint, ok := params["endpoint"].(string)
	if !ok || endpoint == "" {
		return fmt.Errorf("rest source requires a non-empty endpoint")
	}
	return entity.ValidateURL(endpoint)
}

func parseMapping(params map[string]any) ResponseMapping {
	m := ResponseMapping{TitleKey: "title", BodyKey: "body", URLKey: "url", TimeKey: "published_at", TimeLayout: time.RFC3339}
	raw, ok := params["response_mapping"].(map[string]any)
	if !ok {
		return m
	}
	if v, ok := raw["array_path"].(string); ok {
		m.ArrayPath = v
	}
	if v, ok := raw["title_key"].(string); ok {
		m.TitleKey = v
	}
	if v, ok := raw["body_key"].(string); ok {
		m.BodyKey = v
	}
	if v, ok := raw["url_key"].(string); ok {
		m.URLKey = v
	}
	if v, ok := raw["time_key"].(string); ok {
		m.TimeKey = v
	}
	if v, ok := raw["time_layout"].(string); ok {
		m.TimeLayout = v
	}
	return m
}

// Fetch performs a single HTTP GET against the source's endpoint.
func (f *RESTFetcher) Fetch(ctx context.Context, source entity.SourceDescriptor, windowHours int, hints Hints) ([]entity.Item, error) {
	endpoint, _ := source.KindParams["endpoint"].(string)
	mapping := parseMapping(source.KindParams)

	var body []byte
	var contentType string
	retryErr := retry.WithBackoff(ctx, f.retryConfig, func() error {
		cbResult, err := f.circuitBreaker.Execute(func() (interface{}, error) {
			return f.doRequest(ctx, endpoint)
		})
		if err != nil {
			return err
		}
		resp := cbResult.(*restResponse)
		body = resp.body
		contentType = resp.contentType
		return nil
	})
	if retryErr != nil {
		return nil, fmt.Errorf("rest fetch %s: %w", source.Name, retryErr)
	}

	if strings.Contains(contentType, "json") {
		return f.parseJSON(body, source.Name, mapping)
	}
	return f.parseHTML(body, source.Name, endpoint)
}

type restResponse struct {
	body        []byte
	contentType string
}

func (f *RESTFetcher) doRequest(ctx context.Context, endpoint string) (*restResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "MarketPulseBot")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, err
	}
	return &restResponse{body: data, contentType: resp.Header.Get("Content-Type")}, nil
}

func (f *RESTFetcher) parseJSON(body []byte, sourceName string, mapping ResponseMapping) ([]entity.Item, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("rest fetch %s: decode json: %w", sourceName, err)
	}

	records := raw
	if mapping.ArrayPath != "" {
		for _, key := range strings.Split(mapping.ArrayPath, ".") {
			m, ok := records.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("rest fetch %s: array_path %q not found", sourceName, mapping.ArrayPath)
			}
			records = m[key]
		}
	}

	list, ok := records.([]any)
	if !ok {
		return nil, fmt.Errorf("rest fetch %s: response is not an array at array_path %q", sourceName, mapping.ArrayPath)
	}

	items := make([]entity.Item, 0, len(list))
	for _, rec := range list {
		m, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		title, _ := m[mapping.TitleKey].(string)
		bodyText, _ := m[mapping.BodyKey].(string)
		url, _ := m[mapping.URLKey].(string)
		if url == "" {
			continue
		}
		publishedAt := time.Now()
		if ts, ok := m[mapping.TimeKey].(string); ok {
			if parsed, err := time.Parse(mapping.TimeLayout, ts); err == nil {
				publishedAt = parsed
			}
		}
		items = append(items, entity.NewItem(title, bodyText, url, publishedAt, sourceName, entity.SourceKindREST))
	}
	return items, nil
}

// parseHTML is a best-effort fallback when a REST source returns an HTML
// fragment instead of JSON: each <article> or <li> becomes one candidate
// item, titled by its first anchor's text (or the element's whole text when
// that is empty) and linked by its first anchor href.
func (f *RESTFetcher) parseHTML(body []byte, sourceName, baseURL string) ([]entity.Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("rest fetch %s: parse html: %w", sourceName, err)
	}

	var items []entity.Item
	doc.Find("article, li").Each(func(_ int, sel *goquery.Selection) {
		anchor := sel.Find("a").First()
		href, hasHref := anchor.Attr("href")
		if !hasHref || href == "" {
			return
		}
		title := strings.TrimSpace(anchor.Text())
		if title == "" {
			title = strings.TrimSpace(sel.Text())
		}
		items = append(items, entity.NewItem(title, strings.TrimSpace(sel.Text()), href, time.Now(), sourceName, entity.SourceKindREST))
	})
	return items, nil
}
