package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/inquestai/inquest/tools/search"
)

const defaultBaseURL = "https://api.search.brave.com/res/v1/web/search"

// Client searches the web through the Brave Search API.
// https://api.search.brave.com/app/documentation/web-search
type Client struct {
	APIKey     string
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

	endpoint := fmt.Sprintf("%s?q=%s&count=%d", baseURL, url.QueryEscape(query), k)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.APIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave: status %d", resp.StatusCode)
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title    string `json:"title"`
				URL      string `json:"url"`
				Snippet  string `json:"description"`
				PageAge  string `json:"page_age"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []search.Result
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		result := search.Result{Title: r.Title, Link: r.URL, Snippet: r.Snippet}
		if r.PageAge != "" {
			if ts, err := time.Parse(time.RFC3339, r.PageAge); err == nil {
				result.PublishedAt = ts
			}
		}
		out = append(out, result)
	}
	return out, nil
}
