package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const tavilyBaseURL = "https://api.tavily.com"

// Option configures an HTTP-backed searcher.
type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
	maxResults int
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithMaxResults caps the number of hits returned.
func WithMaxResults(n int) Option {
	return func(o *options) { o.maxResults = n }
}

func buildOptions(baseURL string, opts []Option) *options {
	o := &options{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxResults: 5,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxResults <= 0 {
		o.maxResults = 5
	}
	return o
}

// Tavily searches with the Tavily API.
type Tavily struct {
	apiKey string
	opts   *options
}

// NewTavily creates a Tavily searcher.
func NewTavily(apiKey string, opts ...Option) *Tavily {
	return &Tavily{apiKey: apiKey, opts: buildOptions(tavilyBaseURL, opts)}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type tavilyResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer"`
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Search calls POST /search with an answer summary requested.
func (t *Tavily) Search(ctx context.Context, query string) (*Response, error) {
	if t.apiKey == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(tavilyRequest{
		Query:         query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
		MaxResults:    t.opts.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.opts.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tavily: API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var tr tavilyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	out := &Response{Query: query, Answer: tr.Answer, Provider: t.Name()}
	for _, r := range tr.Results {
		out.Results = append(out.Results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
