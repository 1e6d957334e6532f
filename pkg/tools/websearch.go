package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"
	searchTimeout       = 15 * time.Second
	defaultSearchCount  = 5
)

// WebSearchTool queries the Brave Search API for current information. It's
// nil-able by design: with no API key configured, RegisterCoreTools simply
// skips registering it rather than offering a tool that always errors.
type WebSearchTool struct {
	apiKey     string
	maxResults int
	client     *http.Client
}

func NewWebSearchTool(apiKey string, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = defaultSearchCount
	}
	return &WebSearchTool{
		apiKey:     apiKey,
		maxResults: maxResults,
		client:     &http.Client{Timeout: searchTimeout},
	}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web for current information" }

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query string",
			},
		},
		"required": []string{"query"},
	}
}

type braveSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	if t.apiKey == "" {
		return "", fmt.Errorf("web search is not configured")
	}

	endpoint := fmt.Sprintf("%s?q=%s&count=%d", braveSearchEndpoint, url.QueryEscape(query), t.maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("search api returned %s", resp.Status)
	}

	var parsed braveSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse search response: %w", err)
	}

	if len(parsed.Web.Results) == 0 {
		return fmt.Sprintf("No results found for: %s", query), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s\n\n", query)
	for i, r := range parsed.Web.Results {
		if i >= t.maxResults {
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
	}
	return sb.String(), nil
}
