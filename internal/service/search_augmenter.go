package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"pomelo/internal/pkg/websearch"
)

// SearchClient 搜索提供方接口
// 由 websearch.Client 实现
type SearchClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error)
}

// searchKeywords 触发搜索的意图关键词
// 开启搜索开关后，消息命中其中之一才会实际发起查询
var searchKeywords = []string{
	"search", "find", "look up", "what is", "who is", "when did", "latest news",
}

// SearchAugmenter 搜索增强器
// 将外部搜索结果压缩为提示词可用的文本块
// 任何失败都降级为"无增强"，绝不让搜索拖垮对话轮次
type SearchAugmenter struct {
	client        SearchClient
	maxResults    int
	snippetLength int
}

// NewSearchAugmenter 创建搜索增强器
func NewSearchAugmenter(client SearchClient, maxResults, snippetLength int) *SearchAugmenter {
	if maxResults <= 0 {
		maxResults = 3
	}
	if snippetLength <= 0 {
		snippetLength = 200
	}
	return &SearchAugmenter{
		client:        client,
		maxResults:    maxResults,
		snippetLength: snippetLength,
	}
}

// Augment 以用户消息为查询执行一次搜索，返回压缩后的文本块
// 未命中意图关键词、提供方失败或结果为空时返回 ("", false)
func (a *SearchAugmenter) Augment(ctx context.Context, query string) (string, bool) {
	if !hasSearchIntent(query) {
		return "", false
	}

	results, err := a.client.Search(ctx, query, a.maxResults)
	if err != nil {
		log.Warn().Err(err).Msg("web search failed, continuing without augmentation")
		return "", false
	}
	if len(results) == 0 {
		return "", false
	}

	var block strings.Builder
	block.WriteString("Here are some recent search results:\n")
	for i, r := range results {
		snippet := r.Snippet
		if runes := []rune(snippet); len(runes) > a.snippetLength {
			snippet = string(runes[:a.snippetLength]) + "..."
		}
		fmt.Fprintf(&block, "%d. %s: %s\n", i+1, r.Title, snippet)
	}

	return block.String(), true
}

// hasSearchIntent 判断消息是否带搜索意图
func hasSearchIntent(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range searchKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
