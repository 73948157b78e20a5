package model

import "time"

// Role 消息角色（闭集：user / assistant）
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation 对话实体（不内嵌消息，消息单独存储于 messages 集合）
type Conversation struct {
	ID        string    `bson:"_id" json:"id"`
	Title     string    `bson:"title" json:"title"`
	Model     string    `bson:"model,omitempty" json:"model,omitempty"`
	MsgSeq    int64     `bson:"msg_seq" json:"-"` // 消息追加序号计数器
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Message 消息
type Message struct {
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	Seq            int64     `bson:"seq" json:"-"` // 对话内单调递增，决定读取顺序
	Role           Role      `bson:"role" json:"role"`
	Content        string    `bson:"content" json:"content"`
	Model          string    `bson:"model,omitempty" json:"model,omitempty"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
}

// ConversationSummary 对话列表项（不含消息）
type ConversationSummary struct {
	ID        string    `bson:"_id" json:"id"`
	Title     string    `bson:"title" json:"title"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ModelInfo 推理引擎模型目录项（只读，不入库）
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	Digest     string `json:"digest,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}
