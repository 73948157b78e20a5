package ai

import (
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/model"
)

func TestComposer_Compose(t *testing.T) {
	Convey("Compose 组装发送给引擎的消息序列", t, func() {
		now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
		history := []model.Message{
			{Role: model.RoleUser, Content: "first question"},
			{Role: model.RoleAssistant, Content: "first answer"},
			{Role: model.RoleUser, Content: "second question"},
			{Role: model.RoleAssistant, Content: "second answer"},
		}

		Convey("消息顺序为 时间上下文 -> 历史 -> 新消息", func() {
			composer := NewComposer(12000)
			messages := composer.Compose(history, "new question", "", now)

			So(len(messages), ShouldEqual, 6)
			So(messages[0].Role, ShouldEqual, "system")
			So(messages[0].Content, ShouldContainSubstring, "Current date and time")
			So(messages[0].Content, ShouldContainSubstring, "2025-06-15")
			So(messages[0].Content, ShouldContainSubstring, "Sunday")
			So(messages[1].Content, ShouldEqual, "first question")
			So(messages[4].Content, ShouldEqual, "second answer")
			So(messages[5].Role, ShouldEqual, "user")
			So(messages[5].Content, ShouldEqual, "new question")
		})

		Convey("搜索上下文作为独立的 system 消息插在历史之前", func() {
			composer := NewComposer(12000)
			block := "Here are some recent search results:\n1. Go: a language\n"
			messages := composer.Compose(history, "new question", block, now)

			So(len(messages), ShouldEqual, 7)
			So(messages[1].Role, ShouldEqual, "system")
			So(messages[1].Content, ShouldEqual, block)
			So(messages[2].Content, ShouldEqual, "first question")
		})

		Convey("相同输入恒产生相同输出", func() {
			composer := NewComposer(12000)
			a := composer.Compose(history, "new question", "ctx", now)
			b := composer.Compose(history, "new question", "ctx", now)
			So(a, ShouldResemble, b)
		})

		Convey("超出预算时从最旧历史开始丢弃", func() {
			// 预算只够装下固定部分和最近两条历史
			fixed := len(datetimeContext(now)) + len("new question")
			budget := fixed + len("second question") + len("second answer")
			composer := NewComposer(budget)

			messages := composer.Compose(history, "new question", "", now)

			So(len(messages), ShouldEqual, 4)
			So(messages[1].Content, ShouldEqual, "second question")
			So(messages[2].Content, ShouldEqual, "second answer")
			So(messages[3].Content, ShouldEqual, "new question")
		})

		Convey("新消息和搜索上下文永不被丢弃", func() {
			composer := NewComposer(1)
			block := "search block"
			messages := composer.Compose(history, strings.Repeat("m", 100), block, now)

			So(len(messages), ShouldEqual, 3)
			So(messages[0].Content, ShouldContainSubstring, "Current date and time")
			So(messages[1].Content, ShouldEqual, block)
			So(messages[2].Content, ShouldEqual, strings.Repeat("m", 100))
		})

		Convey("无历史时只有固定部分", func() {
			composer := NewComposer(12000)
			messages := composer.Compose(nil, "hello", "", now)

			So(len(messages), ShouldEqual, 2)
			So(messages[0].Role, ShouldEqual, "system")
			So(messages[1].Role, ShouldEqual, "user")
		})
	})
}
