// Package web provides documentation lookup for change review. Remote pages
// go through readability extraction and markdown conversion; non-URL queries
// fall back to the repository's own docs.
package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/bmatcuk/doublestar/v4"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// maxContentSize bounds fetched page bodies.
const maxContentSize = 4 * 1024 * 1024

// maxDocExcerpt bounds how much of a matched local doc is returned.
const maxDocExcerpt = 4 * 1024

// Executor implements documentation lookup.
type Executor struct {
	repoRoot  string
	client    *http.Client
	converter *md.Converter
	userAgent string
}

// NewExecutor creates a docs lookup executor rooted at the given repository.
func NewExecutor(repoRoot string) *Executor {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Executor{
		repoRoot: repoRoot,
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return nil
			},
		},
		converter: converter,
		userAgent: "repo-analysis-suite/1.0",
	}
}

// Lookup resolves a docs query. A URL in the arguments or the query itself
// is fetched and converted to markdown; anything else is matched against the
// repository's markdown documentation.
func (e *Executor) Lookup(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)

	target, _ := args["url"].(string)
	if target == "" {
		target = firstURL(query)
	}
	if target != "" {
		return e.fetchPage(ctx, target)
	}

	if query == "" {
		return nil, fmt.Errorf("query or url is required")
	}
	return e.localDocs(query)
}

// fetchPage retrieves a page, extracts the readable article, and converts it
// to markdown.
func (e *Executor) fetchPage(ctx context.Context, target string) (map[string]any, error) {
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid docs url %q", target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	title := extractTitle(body)
	content := body

	// Readability strips navigation and chrome; on failure fall back to the
	// raw page.
	if article, err := readability.FromReader(bytes.NewReader(body), parsed); err == nil && article.Content != "" {
		content = []byte(article.Content)
		if title == "" {
			title = article.Title
		}
	}

	markdown, err := e.converter.ConvertString(string(content))
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}

	return map[string]any{
		"url":      target,
		"title":    title,
		"markdown": markdown,
		"summary":  fmt.Sprintf("fetched %q (%d chars of markdown)", title, len(markdown)),
	}, nil
}

// localDocs searches the repository's markdown files for the query terms.
func (e *Executor) localDocs(query string) (map[string]any, error) {
	terms := strings.Fields(strings.ToLower(query))

	patterns := []string{"README.md", "CONTRIBUTING.md", "docs/**/*.md", "*.md"}
	seen := make(map[string]bool)
	var docs []map[string]any

	for _, pattern := range patterns {
		matches, err := doublestar.Glob(os.DirFS(e.repoRoot), pattern)
		if err != nil {
			continue
		}
		for _, rel := range matches {
			if seen[rel] {
				continue
			}
			seen[rel] = true

			content, err := os.ReadFile(filepath.Join(e.repoRoot, rel))
			if err != nil {
				continue
			}
			lower := strings.ToLower(string(content))
			hits := 0
			for _, term := range terms {
				if strings.Contains(lower, term) {
					hits++
				}
			}
			if hits == 0 {
				continue
			}

			excerpt := string(content)
			if len(excerpt) > maxDocExcerpt {
				excerpt = excerpt[:maxDocExcerpt]
			}
			docs = append(docs, map[string]any{
				"file":    rel,
				"matches": hits,
				"excerpt": excerpt,
			})
		}
	}

	return map[string]any{
		"docs":    docs,
		"summary": fmt.Sprintf("%d local docs matched %q", len(docs), query),
	}, nil
}

// firstURL returns the first http(s) URL found in free-form text.
func firstURL(text string) string {
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return strings.TrimRight(field, ".,;)")
		}
	}
	return ""
}

// extractTitle extracts the <title> of an HTML document.
func extractTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title != "" {
				return
			}
			walk(c)
		}
	}
	walk(doc)
	return title
}
