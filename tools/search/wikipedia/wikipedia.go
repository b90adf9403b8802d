package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/inquestai/inquest/tools/search"
)

const defaultBaseURL = "https://en.wikipedia.org/w/api.php"

var htmlTags = regexp.MustCompile(`<[^>]+>`)

// Client searches Wikipedia through the MediaWiki search API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c Client) Search(ctx context.Context, query string, k int) ([]search.Result, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("format", "json")
	params.Set("srsearch", query)
	params.Set("srlimit", fmt.Sprintf("%d", k))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia: status %d", resp.StatusCode)
	}

	var raw struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []search.Result
	for i, item := range raw.Query.Search {
		if i >= k {
			break
		}
		out = append(out, search.Result{
			Title:   item.Title,
			Link:    "https://en.wikipedia.org/wiki/" + url.PathEscape(strings.ReplaceAll(item.Title, " ", "_")),
			Snippet: htmlTags.ReplaceAllString(item.Snippet, ""),
		})
	}
	return out, nil
}
