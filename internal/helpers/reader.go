package helpers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// ExtractArticle fetches a page over plain HTTP and runs readability
// extraction, returning the main article text. Callers bound the request
// with the supplied context; maxChars caps the returned text.
func ExtractArticle(ctx context.Context, client *http.Client, link string, maxChars int) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if maxChars <= 0 {
		maxChars = 4000
	}

	parsed, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, nil
}
