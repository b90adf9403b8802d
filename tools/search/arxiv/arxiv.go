package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inquestai/inquest/tools/search"
)

const defaultBaseURL = "http://export.arxiv.org/api/query"

// Client searches arXiv through its Atom query API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Links     []atomLink `xml:"link"`
	ID        string     `xml:"id"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
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

	endpoint := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d", baseURL, url.QueryEscape("all:"+query), k)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv: status %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, err
	}

	var out []search.Result
	for i, entry := range feed.Entries {
		if i >= k {
			break
		}
		link := entry.ID
		for _, l := range entry.Links {
			if l.Rel == "alternate" && l.Href != "" {
				link = l.Href
				break
			}
		}
		result := search.Result{
			Title:   strings.TrimSpace(entry.Title),
			Link:    link,
			Snippet: condense(entry.Summary, 300),
			Content: strings.TrimSpace(entry.Summary),
		}
		if ts, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			result.PublishedAt = ts
		}
		out = append(out, result)
	}
	return out, nil
}

func condense(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		s = s[:max]
	}
	return s
}
