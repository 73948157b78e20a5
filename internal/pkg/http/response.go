package http

// 统一错误码
// 4xxxx 客户端错误，5xxxx 服务端/上游错误
const (
	CodeInvalidRequest       = 40001
	CodeConversationNotFound = 40401
	CodeModelNotFound        = 40402
	CodeStorageError         = 50001
	CodeUpstreamUnavailable  = 50201
)

// ErrorResponse 错误响应（所有API共用）
type ErrorResponse struct {
	Code    int    `json:"code"`             // 错误码（非0表示错误）
	Message string `json:"message"`          // 错误消息
	Detail  string `json:"detail,omitempty"` // 错误详情（可选）
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string, detail ...string) *ErrorResponse {
	resp := &ErrorResponse{
		Code:    code,
		Message: message,
	}
	if len(detail) > 0 && detail[0] != "" {
		resp.Detail = detail[0]
	}
	return resp
}
