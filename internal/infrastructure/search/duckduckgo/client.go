// Package duckduckgo implements the search provider port on top of the
// DuckDuckGo HTML endpoint.
package duckduckgo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

const (
	DefaultBaseURL = "https://html.duckduckgo.com/html/"
	SourceLabel    = "DuckDuckGo"

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxErrorBody     = 512
)

type Config struct {
	BaseURL   string
	UserAgent string
	// RateLimit is the request budget in requests per second. Zero disables
	// throttling.
	RateLimit float64
	Timeout   time.Duration
}

// Client performs single search requests. It does not retry; the query
// executor owns retries.
type Client struct {
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	httpClient *http.Client
}

func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(limit, 1),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) (domain.ProviderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("duckduckgo throttle: %w", err)
	}

	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("parse duckduckgo url: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", query)
	params.Set("kl", "wt-wt")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("create duckduckgo request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.ProviderResponse{}, &resilience.StatusError{
			Operation:  "duckduckgo search",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("parse duckduckgo html: %w", err)
	}
	return domain.ProviderResponse{Results: parseResults(doc, maxResults)}, nil
}

// parseResults walks div.result containers in document order. Entries missing
// a title, link or snippet are skipped.
func parseResults(doc *html.Node, maxResults int) []domain.RawResult {
	var results []domain.RawResult
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if result, ok := parseResult(n); ok {
				results = append(results, result)
				if maxResults > 0 && len(results) >= maxResults {
					return false
				}
			}
			return true
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if !walk(child) {
				return false
			}
		}
		return true
	}
	walk(doc)
	return results
}

func parseResult(container *html.Node) (domain.RawResult, bool) {
	titleNode := find(container, "a", "result__a")
	if titleNode == nil {
		return domain.RawResult{}, false
	}
	title := textContent(titleNode)
	link := unwrapRedirect(attr(titleNode, "href"))

	var snippet string
	if snippetNode := find(container, "", "result__snippet"); snippetNode != nil {
		snippet = textContent(snippetNode)
	}
	if title == "" || link == "" || snippet == "" {
		return domain.RawResult{}, false
	}
	return domain.RawResult{
		Title:   title,
		Link:    link,
		Content: snippet,
		Source:  SourceLabel,
	}, true
}

// unwrapRedirect turns /l/?uddg=<target> links into the target URL.
func unwrapRedirect(link string) string {
	link = strings.TrimSpace(link)
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	if strings.TrimSuffix(parsed.Path, "/") != "/l" {
		return link
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return link
}

// find returns the first descendant with the given class. An empty tag
// matches any element.
func find(n *html.Node, tag, class string) *html.Node {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && (tag == "" || child.Data == tag) && hasClass(child, class) {
			return child
		}
		if found := find(child, tag, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
