package ai

import (
	"fmt"
	"time"

	"pomelo/internal/model"
	"pomelo/internal/pkg/ollama"
)

// Composer 提示词组装器
// 纯函数：相同输入恒产生相同输出
// 组装顺序: 时间上下文 -> 搜索上下文(可选) -> 历史消息(按时间顺序) -> 新用户消息
type Composer struct {
	maxChars int // 总字符预算
}

// NewComposer 创建提示词组装器
func NewComposer(maxChars int) *Composer {
	return &Composer{maxChars: maxChars}
}

// Compose 组装发送给推理引擎的消息序列
// 超出预算时从最旧的历史开始丢弃；时间上下文、搜索上下文和新消息永不丢弃
func (c *Composer) Compose(history []model.Message, newMessage string, searchContext string, now time.Time) []ollama.Message {
	system := ollama.Message{
		Role:    "system",
		Content: datetimeContext(now),
	}

	// 固定部分先占预算
	budget := c.maxChars - len(system.Content) - len(newMessage)

	var search *ollama.Message
	if searchContext != "" {
		search = &ollama.Message{
			Role:    "system",
			Content: searchContext,
		}
		budget -= len(search.Content)
	}

	// 从最新历史向前回填，直到预算耗尽
	keep := len(history)
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		n := len(history[i].Content)
		if used+n > budget {
			break
		}
		used += n
		keep = i
	}

	messages := make([]ollama.Message, 0, len(history)+3)
	messages = append(messages, system)
	if search != nil {
		messages = append(messages, *search)
	}
	for _, msg := range history[keep:] {
		messages = append(messages, ollama.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	messages = append(messages, ollama.Message{
		Role:    "user",
		Content: newMessage,
	})

	return messages
}

// datetimeContext 当前日期时间上下文
func datetimeContext(now time.Time) string {
	return fmt.Sprintf("Current date and time: %s (%s, %s %s, %d)",
		now.Format(time.RFC3339),
		now.Weekday().String(),
		now.Month().String(),
		now.Format("2006-01-02"),
		now.Year(),
	)
}
