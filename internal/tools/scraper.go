package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const defaultMaxContent = 50000

// ScraperTool fetches a page and reduces it to its readable text.
type ScraperTool struct {
	UserAgent  string
	MaxContent int
	client     *http.Client
	policy     *bluemonday.Policy
}

func NewScraperTool() *ScraperTool {
	return &ScraperTool{
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		MaxContent: defaultMaxContent,
		client:     &http.Client{Timeout: 30 * time.Second},
		policy:     bluemonday.StrictPolicy(),
	}
}

func (s *ScraperTool) Name() string {
	return "scraper"
}

func (s *ScraperTool) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text."
}

func (s *ScraperTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL of the webpage to scrape (e.g., https://example.com/article)",
			},
		},
		"required": []string{"url"},
	}
}

func (s *ScraperTool) Execute(ctx context.Context, tc Context, input string) (string, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	pageURL, err := url.Parse(args.URL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return "Error: url must be an absolute http(s) URL", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %w", err)
	}

	return s.report(article.Title, article.Excerpt, article.TextContent), nil
}

func (s *ScraperTool) report(title, excerpt, text string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TITLE: %s\n", title)
	if excerpt != "" {
		fmt.Fprintf(&sb, "EXCERPT: %s\n", s.policy.Sanitize(excerpt))
	}
	sb.WriteString("\n-- CONTENT --\n")

	content := strings.TrimSpace(s.policy.Sanitize(text))
	if s.MaxContent > 0 && len(content) > s.MaxContent {
		content = content[:s.MaxContent] + "\n... (content truncated) ..."
	}
	sb.WriteString(content)
	return sb.String()
}
