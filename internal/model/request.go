package model

// ChatRequest 对话请求
type ChatRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id,omitempty"`
	Model          string `json:"model,omitempty"`
	EnableSearch   *bool  `json:"enable_search,omitempty"` // 省略时落到配置的默认值
}

// ListQuery 列表分页参数
type ListQuery struct {
	Limit  int64 `form:"limit,default=50"`
	Offset int64 `form:"offset,default=0"`
}
