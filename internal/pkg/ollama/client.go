package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// 错误类型
// ErrUnavailable: 网络错误、超时、非成功响应
// ErrModelNotFound: 引擎报告模型不存在
var (
	ErrUnavailable   = errors.New("推理引擎不可用")
	ErrModelNotFound = errors.New("模型不存在")
)

// Message 引擎对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Model 模型目录项
type Model struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	ModifiedAt string `json:"modified_at"`
}

// Client Ollama 客户端封装
// 调用本地 Ollama 的原生 API: POST /api/chat, GET /api/tags
// 每次调用只尝试一次，重试策略由上层决定
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建 Ollama 客户端
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// chatRequest /api/chat 请求体
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// chatResponse /api/chat 响应体
type chatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

// Chat 发送对话请求并返回完整回复
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(&chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("model", model).Msg("ollama chat request failed")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyError(resp.StatusCode, data, model)
	}

	var result chatResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("%w: invalid response: %v", ErrUnavailable, err)
	}
	if result.Error != "" {
		return "", classifyError(resp.StatusCode, data, model)
	}

	return result.Message.Content, nil
}

// tagsResponse /api/tags 响应体
type tagsResponse struct {
	Models []Model `json:"models"`
}

// ListModels 查询引擎的模型目录
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("ollama list models request failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var result tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrUnavailable, err)
	}

	return result.Models, nil
}

// errorBody 引擎错误响应体
type errorBody struct {
	Error string `json:"error"`
}

// classifyError 区分"模型不存在"与其他上游错误
// Ollama 对未知模型返回 404, body 形如 {"error":"model 'x' not found"}
func classifyError(status int, data []byte, model string) error {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)

	if status == http.StatusNotFound && strings.Contains(eb.Error, "not found") {
		return fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}

	msg := eb.Error
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, msg)
}
