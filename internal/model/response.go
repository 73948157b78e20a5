package model

import "time"

// ChatResponse 对话响应
type ChatResponse struct {
	Response       string    `json:"response"`
	ConversationID string    `json:"conversation_id"`
	Model          string    `json:"model"`
	Timestamp      time.Time `json:"timestamp"`
}
