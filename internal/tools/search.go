package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/maypok86/otter"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

const (
	searchCacheSize = 256
	searchCacheTTL  = 10 * time.Minute
	maxQueryLength  = 300

	// duckduckgo answers with this text instead of an error when nothing matched
	noResultsText = "No good DuckDuckGo Search Results was found"
)

// Searcher is the subset of langchaingo's duckduckgo tool the search tool uses.
type Searcher interface {
	Call(ctx context.Context, input string) (string, error)
}

// SearchTool answers web queries through DuckDuckGo. Identical queries within
// the cache TTL are served from memory, so a loop that repeats a search does
// not hit the network again.
type SearchTool struct {
	client Searcher
	cache  *otter.Cache[string, string]
}

func NewSearchTool(maxResults int) (*SearchTool, error) {
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return newSearchTool(ddg)
}

func newSearchTool(client Searcher) (*SearchTool, error) {
	cache, err := otter.MustBuilder[string, string](searchCacheSize).WithTTL(searchCacheTTL).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build search cache: %w", err)
	}
	return &SearchTool{client: client, cache: &cache}, nil
}

func (s *SearchTool) Name() string {
	return "search"
}

func (s *SearchTool) Description() string {
	return "Search the web for current information. Returns titles, links and snippets; use the scraper to read a result."
}

func (s *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to look up",
			},
			"site": map[string]any{
				"type":        "string",
				"description": "Optional domain to restrict results to, e.g. go.dev",
			},
		},
		"required": []string{"query"},
	}
}

type searchArgs struct {
	Query string `json:"query"`
	Site  string `json:"site,omitempty"`
}

// query builds the search string, or reports why it cannot.
func (a searchArgs) query() (string, error) {
	q := strings.Join(strings.Fields(a.Query), " ")
	if q == "" {
		return "", fmt.Errorf("query is required")
	}
	if r := []rune(q); len(r) > maxQueryLength {
		q = string(r[:maxQueryLength])
	}
	if site := strings.TrimSpace(a.Site); site != "" {
		site = strings.TrimPrefix(strings.TrimPrefix(site, "https://"), "http://")
		q = fmt.Sprintf("site:%s %s", strings.TrimSuffix(site, "/"), q)
	}
	return q, nil
}

func (s *SearchTool) Execute(ctx context.Context, tc Context, input string) (string, error) {
	var args searchArgs
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	q, err := args.query()
	if err != nil {
		return "Error: " + err.Error(), nil
	}

	if cached, ok := s.cache.Get(q); ok {
		return cached, nil
	}

	raw, err := s.client.Call(ctx, q)
	if err != nil {
		return "", fmt.Errorf("search %q failed: %w", q, err)
	}

	out := formatResults(q, raw)
	s.cache.Set(q, out)
	return out, nil
}

func formatResults(q, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == noResultsText {
		return fmt.Sprintf("No results for %q.", q)
	}
	return fmt.Sprintf("Results for %q:\n\n%s", q, raw)
}
