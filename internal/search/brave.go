package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/aline-bot/internal/capability"
	"github.com/nugget/aline-bot/internal/httpkit"
)

// BraveURL is the Brave web search endpoint.
const BraveURL = "https://api.search.brave.com/res/v1/web/search"

// Brave searches the Brave web index, Korean results first.
type Brave struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewBrave creates a Brave provider. An empty endpoint uses BraveURL.
func NewBrave(endpoint, apiKey string) *Brave {
	if endpoint == "" {
		endpoint = BraveURL
	}
	return &Brave{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

// Name implements Provider.
func (b *Brave) Name() string { return "brave" }

type braveResult struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Description   string   `json:"description"`
	Age           string   `json:"age"`
	ExtraSnippets []string `json:"extra_snippets"`
}

// Search implements Provider. Descriptions arrive with <strong> markup
// around the matched terms; the snippet is plain text.
func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 {
		count = 5
	}
	lang := opts.Language
	if lang == "" {
		lang = "ko"
	}
	params := url.Values{
		"q":              {query},
		"count":          {strconv.Itoa(count)},
		"search_lang":    {lang},
		"safesearch":     {"moderate"},
		"extra_snippets": {"true"},
	}
	if lang == "ko" {
		params.Set("country", "KR")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var body struct {
		Web struct {
			Results []braveResult `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("brave: decode response: %w", err)
	}

	out := make([]Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		if r.URL == "" {
			continue
		}
		out = append(out, Result{
			Title:   capability.PlainText(r.Title),
			URL:     r.URL,
			Snippet: braveSnippet(r),
		})
	}
	return out, nil
}

func braveSnippet(r braveResult) string {
	parts := []string{capability.PlainText(r.Description)}
	if len(r.ExtraSnippets) > 0 {
		parts = append(parts, capability.PlainText(r.ExtraSnippets[0]))
	}
	s := strings.Join(parts, " ")
	if r.Age != "" {
		s = r.Age + " · " + s
	}
	return strings.TrimSpace(s)
}
