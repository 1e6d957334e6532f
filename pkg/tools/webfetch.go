package tools

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	fetchMaxChars   = 8000
	fetchTimeout    = 20 * time.Second
	fetchUserAgent  = "relay-gateway/1.0"
	fetchMaxRedirs  = 3
	fetchBodyLimit  = fetchMaxChars * 8
)

// blockedSearchHosts rejects direct fetches of search-engine result pages —
// those belong to the web_search tool, which calls a real search API instead
// of scraping a results page that changes shape constantly.
var blockedSearchHosts = map[string]bool{
	"www.google.com":     true,
	"google.com":         true,
	"www.bing.com":       true,
	"bing.com":           true,
	"duckduckgo.com":     true,
	"www.duckduckgo.com": true,
}

// WebFetchTool fetches a URL and extracts its readable text content.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= fetchMaxRedirs {
					return fmt.Errorf("stopped after %d redirects", fetchMaxRedirs)
				}
				return checkSSRF(req.URL)
			},
		},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL and extract its readable text content"
}

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "The HTTP or HTTPS URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

// checkSSRF resolves u's host and rejects it if any resolved address is
// private/loopback/link-local/metadata, blocking the common SSRF vector of a
// hostname that resolves internally despite looking public.
func checkSSRF(u *url.URL) error {
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if blockedSearchHosts[strings.ToLower(host)] {
		return fmt.Errorf("fetching search engine result pages directly is not supported, use web_search instead")
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("could not resolve host: %w", err)
	}
	for _, ip := range ips {
		if IsPrivateIP(ip) {
			return fmt.Errorf("refusing to fetch address in a private or reserved range")
		}
	}
	return nil
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("only http and https urls are supported")
	}
	if err := checkSSRF(parsed); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("http error: %s", resp.Status)
	}

	title, text, err := extractReadableText(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse content: %w", err)
	}

	text = TruncateOutput(text, fetchMaxChars)
	return fmt.Sprintf("Title: %s\n\nContent:\n%s", title, text), nil
}

// extractReadableText walks the parsed DOM collecting visible text, skipping
// script/style/noscript nodes whose content is never meant to be read.
func extractReadableText(r interface{ Read([]byte) (int, error) }) (string, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var title string
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				sb.WriteString(trimmed)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, strings.Join(strings.Fields(sb.String()), " "), nil
}
