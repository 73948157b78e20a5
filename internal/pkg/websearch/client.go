package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL DuckDuckGo Instant Answer API 地址
const DefaultBaseURL = "https://api.duckduckgo.com"

// Result 单条搜索结果
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Client 网络搜索客户端
// 封装 DuckDuckGo Instant Answer API（query → results）
// 失败语义由调用方处理，本层只返回错误
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建搜索客户端
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// searchResponse Instant Answer API 响应（只取用到的字段）
type searchResponse struct {
	Heading       string         `json:"Heading"`
	AbstractText  string         `json:"AbstractText"`
	AbstractURL   string         `json:"AbstractURL"`
	RelatedTopics []relatedTopic `json:"RelatedTopics"`
}

// relatedTopic 相关主题，可能嵌套一层分组
type relatedTopic struct {
	Text     string         `json:"Text"`
	FirstURL string         `json:"FirstURL"`
	Topics   []relatedTopic `json:"Topics"`
}

// Search 执行一次搜索，返回至多 maxResults 条结果
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search provider returned status %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, err
	}

	results := make([]Result, 0, maxResults)

	// 摘要作为首条结果
	if sr.AbstractText != "" {
		results = append(results, Result{
			Title:   sr.Heading,
			Snippet: sr.AbstractText,
			URL:     sr.AbstractURL,
		})
	}

	results = appendTopics(results, sr.RelatedTopics, maxResults)
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	return results, nil
}

// appendTopics 展平相关主题（含一层嵌套分组）
func appendTopics(results []Result, topics []relatedTopic, max int) []Result {
	for _, t := range topics {
		if len(results) >= max {
			break
		}
		if len(t.Topics) > 0 {
			results = appendTopics(results, t.Topics, max)
			continue
		}
		if t.Text == "" {
			continue
		}
		results = append(results, Result{
			Title:   topicTitle(t.Text),
			Snippet: t.Text,
			URL:     t.FirstURL,
		})
	}
	return results
}

// topicTitle 相关主题的 Text 形如 "标题 - 描述"，取标题部分
func topicTitle(text string) string {
	if i := strings.Index(text, " - "); i > 0 {
		return text[:i]
	}
	return text
}
