// Package wiki searches and summarizes Wikipedia articles for the
// wiki_search and wiki_summary tools.
package wiki

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/nugget/hearth/internal/httpkit"
	"github.com/nugget/hearth/internal/tools"
)

// Client implements [tools.Encyclopedia] against one Wikipedia edition.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New returns a client for language (e.g. "en"). baseURL overrides the
// edition host and is used by tests.
func New(httpClient *http.Client, language, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if language == "" {
		language = "en"
	}
	if baseURL == "" {
		baseURL = "https://" + language + ".wikipedia.org"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With("component", "wiki"),
	}
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"search"`
	} `json:"query"`
}

// Search runs a full-text search and returns ranked titles.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]tools.SearchHit, error) {
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {strconv.Itoa(limit)},
		"format":   {"json"},
		"utf8":     {"1"},
	}
	var out searchResponse
	if err := c.get(ctx, c.baseURL+"/w/api.php?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	hits := make([]tools.SearchHit, 0, len(out.Query.Search))
	for _, s := range out.Query.Search {
		hits = append(hits, tools.SearchHit{Title: s.Title, Snippet: StripHTML(s.Snippet)})
	}
	return hits, nil
}

type summaryResponse struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Summary fetches the lead-section summary of title.
func (c *Client) Summary(ctx context.Context, title string) (tools.Summary, error) {
	slug := url.PathEscape(strings.ReplaceAll(strings.TrimSpace(title), " ", "_"))
	var out summaryResponse
	if err := c.get(ctx, c.baseURL+"/api/rest_v1/page/summary/"+slug, &out); err != nil {
		return tools.Summary{}, err
	}
	if out.Extract == "" {
		return tools.Summary{}, fmt.Errorf("article %q has no summary", title)
	}
	return tools.Summary{Title: out.Title, Extract: out.Extract, URL: out.ContentURLs.Desktop.Page}, nil
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	req, err := httpkit.NewJSONRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wikipedia request: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		httpkit.DrainAndClose(resp.Body, 4096)
		return fmt.Errorf("no such article")
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("wikipedia %d: %s", resp.StatusCode, body)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)
	return decode(resp.Body, out)
}

// StripHTML returns the text content of an HTML fragment with entities
// decoded and whitespace collapsed.
func StripHTML(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(z.Text())
		}
	}
}
