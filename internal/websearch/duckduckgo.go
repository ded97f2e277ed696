package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DuckDuckGo scrapes the DuckDuckGo HTML interface. It needs no API key,
// which makes it the default provider for keyless runs.
type DuckDuckGo struct {
	client     *http.Client
	maxResults int
}

// NewDuckDuckGo constructs a DuckDuckGo provider.
func NewDuckDuckGo(timeout time.Duration, maxResults int) *DuckDuckGo {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	return &DuckDuckGo{client: &http.Client{Timeout: timeout}, maxResults: maxResults}
}

// Search performs a search using the DuckDuckGo HTML interface.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Hit, error) {
	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: create request: %w", err)
	}

	// Set headers to look like a browser.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo: HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: read response: %w", err)
	}

	return parseDuckDuckGoResults(string(body), d.maxResults)
}

// parseDuckDuckGoResults extracts search results from DuckDuckGo HTML.
// Result blocks use class="result results_links ...".
func parseDuckDuckGoResults(htmlContent string, maxResults int) ([]Hit, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse HTML: %w", err)
	}

	var hits []Hit
	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(hits) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			for _, attr := range n.Attr {
				if attr.Key == "class" && strings.Contains(attr.Val, "result") && strings.Contains(attr.Val, "results_links") {
					hit := extractHit(n)
					if hit.URL != "" && hit.Title != "" {
						hits = append(hits, hit)
					}
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}
	findResults(doc)
	return hits, nil
}

// extractHit extracts a single search result from a result div.
func extractHit(n *html.Node) Hit {
	var hit Hit

	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "class" {
					if strings.Contains(attr.Val, "result__a") {
						hit.URL = getAttrValue(n, "href")
						hit.Title = textContent(n)
					} else if strings.Contains(attr.Val, "result__snippet") {
						hit.Snippet = textContent(n)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)

	hit.URL = cleanRedirectURL(hit.URL)
	return hit
}

// cleanRedirectURL unwraps DuckDuckGo's redirect wrapper.
func cleanRedirectURL(raw string) string {
	if !strings.HasPrefix(raw, "//duckduckgo.com/l/?uddg=") {
		return raw
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(raw, "//duckduckgo.com/l/?uddg="))
	if err != nil {
		return raw
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

// getAttrValue returns the value of an attribute.
func getAttrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// textContent returns all text content within a node.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var getText func(*html.Node)
	getText = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			getText(c)
		}
	}
	getText(n)
	return strings.TrimSpace(sb.String())
}
