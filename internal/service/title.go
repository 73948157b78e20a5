package service

import "strings"

// titleMaxLength 标题最大长度
const titleMaxLength = 50

// DeriveTitle 从首条用户消息推导对话标题
// 压缩空白后按词边界截断，超长时追加省略号
func DeriveTitle(message string) string {
	clean := strings.Join(strings.Fields(message), " ")

	if len(clean) <= titleMaxLength {
		return clean
	}

	var title strings.Builder
	for _, word := range strings.Fields(clean) {
		next := word
		if title.Len() > 0 {
			next = " " + word
		}
		// 预留省略号的位置
		if title.Len()+len(next) > titleMaxLength-3 {
			break
		}
		title.WriteString(next)
	}

	return title.String() + "..."
}
