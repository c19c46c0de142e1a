package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"coach-backend/internal/config"
	"coach-backend/internal/utils"
	"coach-backend/pkg/logger"
)

// Searcher 一次性的联网搜索，返回格式化后的文本，没有结果时返回空串
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type tavilyResult struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

type TavilySearcher struct {
	cfg    config.SearchConfig
	client *http.Client
}

func NewTavilySearcher(cfg config.SearchConfig) *TavilySearcher {
	if cfg.SearchDepth == "" {
		cfg.SearchDepth = "basic"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &TavilySearcher{
		cfg:    cfg,
		client: utils.NewHTTPClient(cfg.Timeout),
	}
}

func (s *TavilySearcher) Search(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", nil
	}

	params := tavilyRequest{
		APIKey:      s.cfg.APIKey,
		Query:       query,
		SearchDepth: s.cfg.SearchDepth,
		MaxResults:  s.cfg.MaxResults,
	}

	var resp tavilyResponse
	if err := postJSON(ctx, s.client, s.cfg.BaseURL, params, &resp); err != nil {
		return "", fmt.Errorf("tavily search: %w", err)
	}

	logger.Debugf("Tavily returned %d results for %q", len(resp.Results), query)
	return formatResults(resp.Results), nil
}

// formatResults [序号] 标题/内容/链接，结果之间空一行
func formatResults(results []tavilyResult) string {
	if len(results) == 0 {
		return ""
	}

	parts := make([]string, 0, len(results))
	for i, item := range results {
		parts = append(parts, fmt.Sprintf("[%d] 标题: %s\n内容: %s\n链接: %s", i+1, item.Title, item.Content, item.URL))
	}
	return strings.Join(parts, "\n\n")
}
