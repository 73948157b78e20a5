package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/ai"
	"pomelo/internal/model"
	"pomelo/internal/pkg/ollama"
	"pomelo/internal/repository"
)

// memStore 内存版对话存储，行为对齐 repository.ConversationRepo
type memStore struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
	failAppend    bool
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
	}
}

func (s *memStore) Create(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	cp := *conv
	s.conversations[conv.ID] = &cp
	return nil
}

func (s *memStore) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *memStore) ListSummaries(ctx context.Context, limit, offset int64) ([]model.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summaries := make([]model.ConversationSummary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		summaries = append(summaries, model.ConversationSummary{
			ID:        conv.ID,
			Title:     conv.Title,
			UpdatedAt: conv.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (s *memStore) AppendMessage(ctx context.Context, conversationID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return repository.ErrNotFound
	}
	if s.failAppend {
		return errors.New("write failed")
	}
	conv.MsgSeq++
	msg.ConversationID = conversationID
	msg.Seq = conv.MsgSeq
	s.messages[conversationID] = append(s.messages[conversationID], *msg)
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, repository.ErrNotFound
	}
	return append([]model.Message(nil), s.messages[conversationID]...), nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *memStore) ClearMessages(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return repository.ErrNotFound
	}
	conv.Title = ""
	conv.UpdatedAt = time.Now()
	delete(s.messages, id)
	return nil
}

func (s *memStore) SetTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return repository.ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return nil
}

// stubEngine 可编程的推理引擎桩
type stubEngine struct {
	mu        sync.Mutex
	reply     string
	err       error
	lastModel string
	calls     int
}

func (e *stubEngine) Chat(ctx context.Context, modelName string, messages []ollama.Message) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.lastModel = modelName
	if e.err != nil {
		return "", e.err
	}
	return e.reply, nil
}

func (e *stubEngine) ListModels(ctx context.Context) ([]ollama.Model, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []ollama.Model{{Name: "phi3:mini"}, {Name: "llama3:8b"}}, nil
}

// stubAugmenter 记录调用次数的搜索增强桩
type stubAugmenter struct {
	mu    sync.Mutex
	block string
	ok    bool
	calls int
}

func (a *stubAugmenter) Augment(ctx context.Context, query string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.block, a.ok
}

func newTestService(store ConversationStore, engine InferenceEngine, augmenter Augmenter) *ChatService {
	return NewChatService(store, engine, augmenter, ai.NewComposer(12000), nil, "phi3:mini", false)
}

func boolPtr(v bool) *bool { return &v }

func TestChatService_Chat(t *testing.T) {
	Convey("Chat 能正确处理一次对话轮次", t, func() {
		ctx := context.Background()
		store := newMemStore()
		engine := &stubEngine{reply: "Hi there!"}
		augmenter := &stubAugmenter{}
		svc := newTestService(store, engine, augmenter)

		Convey("空库发起首轮对话应隐式创建对话", func() {
			resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "Hello", Model: "phi3:mini"})
			So(err, ShouldBeNil)
			So(resp.ConversationID, ShouldNotBeEmpty)
			So(resp.Response, ShouldEqual, "Hi there!")

			messages, err := svc.GetMessages(ctx, resp.ConversationID)
			So(err, ShouldBeNil)
			So(len(messages), ShouldEqual, 2)
			So(messages[0].Role, ShouldEqual, model.RoleUser)
			So(messages[0].Content, ShouldEqual, "Hello")
			So(messages[1].Role, ShouldEqual, model.RoleAssistant)
			So(messages[1].Content, ShouldEqual, "Hi there!")
		})

		Convey("返回的 conversation_id 在后续轮次中保持稳定", func() {
			first, err := svc.Chat(ctx, &model.ChatRequest{Message: "Hello"})
			So(err, ShouldBeNil)

			second, err := svc.Chat(ctx, &model.ChatRequest{
				Message:        "How are you?",
				ConversationID: first.ConversationID,
			})
			So(err, ShouldBeNil)
			So(second.ConversationID, ShouldEqual, first.ConversationID)

			messages, err := svc.GetMessages(ctx, first.ConversationID)
			So(err, ShouldBeNil)
			So(len(messages), ShouldEqual, 4)
		})

		Convey("未知的 conversation_id 应返回对话不存在", func() {
			_, err := svc.Chat(ctx, &model.ChatRequest{
				Message:        "Hello",
				ConversationID: "no-such-id",
			})
			So(errors.Is(err, ErrConversationNotFound), ShouldBeTrue)
		})

		Convey("空白模型名应在到达引擎前替换为默认模型", func() {
			_, err := svc.Chat(ctx, &model.ChatRequest{Message: "Hello", Model: "   "})
			So(err, ShouldBeNil)
			So(engine.lastModel, ShouldEqual, "phi3:mini")
		})

		Convey("标题应从首条用户消息推导", func() {
			resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "Tell me about Go"})
			So(err, ShouldBeNil)

			conv, err := svc.GetConversation(ctx, resp.ConversationID)
			So(err, ShouldBeNil)
			So(conv.Title, ShouldEqual, "Tell me about Go")
		})

		Convey("关闭搜索时增强器不应被调用", func() {
			_, err := svc.Chat(ctx, &model.ChatRequest{Message: "Hello", EnableSearch: boolPtr(false)})
			So(err, ShouldBeNil)
			So(augmenter.calls, ShouldEqual, 0)
		})

		Convey("开启搜索时增强器应被调用一次", func() {
			augmenter.block = "Here are some recent search results:\n1. Go: a language\n"
			augmenter.ok = true

			_, err := svc.Chat(ctx, &model.ChatRequest{Message: "what is Go", EnableSearch: boolPtr(true)})
			So(err, ShouldBeNil)
			So(augmenter.calls, ShouldEqual, 1)
		})

		Convey("搜索增强失败时对话轮次仍应成功", func() {
			augmenter.ok = false

			resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "what is Go", EnableSearch: boolPtr(true)})
			So(err, ShouldBeNil)
			So(resp.Response, ShouldEqual, "Hi there!")
		})

		Convey("请求省略 enable_search 时落到配置默认值", func() {
			svcDefaultOn := NewChatService(store, engine, augmenter, ai.NewComposer(12000), nil, "phi3:mini", true)

			Convey("默认开启时省略字段应触发增强", func() {
				_, err := svcDefaultOn.Chat(ctx, &model.ChatRequest{Message: "what is Go"})
				So(err, ShouldBeNil)
				So(augmenter.calls, ShouldEqual, 1)
			})

			Convey("显式 enable_search=false 应覆盖默认开启", func() {
				_, err := svcDefaultOn.Chat(ctx, &model.ChatRequest{Message: "what is Go", EnableSearch: boolPtr(false)})
				So(err, ShouldBeNil)
				So(augmenter.calls, ShouldEqual, 0)
			})
		})

		Convey("推理失败时用户消息应已持久化", func() {
			engine.err = fmt.Errorf("%w: connection refused", ollama.ErrUnavailable)

			resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "Hello"})
			So(resp, ShouldBeNil)
			So(errors.Is(err, ErrUpstreamUnavailable), ShouldBeTrue)

			// 失败的轮次只留下用户消息
			summaries, err := svc.ListConversations(ctx, 50, 0)
			So(err, ShouldBeNil)
			So(len(summaries), ShouldEqual, 1)

			messages, err := svc.GetMessages(ctx, summaries[0].ID)
			So(err, ShouldBeNil)
			So(len(messages), ShouldEqual, 1)
			So(messages[0].Role, ShouldEqual, model.RoleUser)
		})

		Convey("引擎报告模型不存在时应返回模型不存在", func() {
			engine.err = fmt.Errorf("%w: ghost:1b", ollama.ErrModelNotFound)

			_, err := svc.Chat(ctx, &model.ChatRequest{Message: "Hello", Model: "ghost:1b"})
			So(errors.Is(err, ErrModelNotFound), ShouldBeTrue)
		})

		Convey("存储追加失败时应返回存储层错误", func() {
			resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "Hello"})
			So(err, ShouldBeNil)

			store.failAppend = true
			_, err = svc.Chat(ctx, &model.ChatRequest{
				Message:        "again",
				ConversationID: resp.ConversationID,
			})
			So(errors.Is(err, ErrStorage), ShouldBeTrue)
		})
	})
}

func TestChatService_ConversationLifecycle(t *testing.T) {
	Convey("对话生命周期操作行为正确", t, func() {
		ctx := context.Background()
		store := newMemStore()
		engine := &stubEngine{reply: "ok"}
		svc := newTestService(store, engine, &stubAugmenter{})

		Convey("同一对话的消息按提交顺序返回", func() {
			resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "first"})
			So(err, ShouldBeNil)
			for _, msg := range []string{"second", "third", "fourth"} {
				_, err := svc.Chat(ctx, &model.ChatRequest{Message: msg, ConversationID: resp.ConversationID})
				So(err, ShouldBeNil)
			}

			messages, err := svc.GetMessages(ctx, resp.ConversationID)
			So(err, ShouldBeNil)
			So(len(messages), ShouldEqual, 8)

			contents := []string{}
			for _, m := range messages {
				if m.Role == model.RoleUser {
					contents = append(contents, m.Content)
				}
			}
			So(contents, ShouldResemble, []string{"first", "second", "third", "fourth"})
		})

		Convey("删除对话后消息不可再访问", func() {
			resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "Hello"})
			So(err, ShouldBeNil)

			So(svc.DeleteConversation(ctx, resp.ConversationID), ShouldBeNil)

			_, err = svc.GetMessages(ctx, resp.ConversationID)
			So(errors.Is(err, ErrConversationNotFound), ShouldBeTrue)

			summaries, err := svc.ListConversations(ctx, 50, 0)
			So(err, ShouldBeNil)
			So(len(summaries), ShouldEqual, 0)
		})

		Convey("删除未知对话应返回对话不存在", func() {
			err := svc.DeleteConversation(ctx, "no-such-id")
			So(errors.Is(err, ErrConversationNotFound), ShouldBeTrue)
		})

		Convey("清空消息保留对话记录且重置标题", func() {
			resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "Hello"})
			So(err, ShouldBeNil)

			So(svc.ClearMessages(ctx, resp.ConversationID), ShouldBeNil)

			messages, err := svc.GetMessages(ctx, resp.ConversationID)
			So(err, ShouldBeNil)
			So(len(messages), ShouldEqual, 0)

			conv, err := svc.GetConversation(ctx, resp.ConversationID)
			So(err, ShouldBeNil)
			So(conv.Title, ShouldBeEmpty)

			// 清空后的下一轮重新推导标题
			_, err = svc.Chat(ctx, &model.ChatRequest{Message: "Fresh start", ConversationID: resp.ConversationID})
			So(err, ShouldBeNil)

			conv, err = svc.GetConversation(ctx, resp.ConversationID)
			So(err, ShouldBeNil)
			So(conv.Title, ShouldEqual, "Fresh start")
		})

		Convey("对话列表严格按最近活跃排序而非创建顺序", func() {
			a, err := svc.Chat(ctx, &model.ChatRequest{Message: "turn on A"})
			So(err, ShouldBeNil)
			b, err := svc.Chat(ctx, &model.ChatRequest{Message: "turn on B"})
			So(err, ShouldBeNil)
			_, err = svc.Chat(ctx, &model.ChatRequest{Message: "A again", ConversationID: a.ConversationID})
			So(err, ShouldBeNil)

			summaries, err := svc.ListConversations(ctx, 50, 0)
			So(err, ShouldBeNil)
			So(len(summaries), ShouldEqual, 2)
			So(summaries[0].ID, ShouldEqual, a.ConversationID)
			So(summaries[1].ID, ShouldEqual, b.ConversationID)
		})
	})
}

// echoEngine 回显最后一条用户消息的引擎桩，
// 延迟一拍放大并发轮次的交错窗口
type echoEngine struct{}

func (echoEngine) Chat(ctx context.Context, modelName string, messages []ollama.Message) (string, error) {
	time.Sleep(time.Millisecond)
	return "re: " + messages[len(messages)-1].Content, nil
}

func (echoEngine) ListModels(ctx context.Context) ([]ollama.Model, error) {
	return []ollama.Model{}, nil
}

func TestChatService_ConcurrentTurns(t *testing.T) {
	Convey("同一对话的并发轮次整对串行落库", t, func() {
		ctx := context.Background()
		svc := newTestService(newMemStore(), echoEngine{}, &stubAugmenter{})

		resp, err := svc.Chat(ctx, &model.ChatRequest{Message: "turn 0"})
		So(err, ShouldBeNil)

		const turns = 8
		errs := make([]error, turns)
		var wg sync.WaitGroup
		for i := 0; i < turns; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Chat(ctx, &model.ChatRequest{
					Message:        fmt.Sprintf("turn %d", i+1),
					ConversationID: resp.ConversationID,
				})
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			So(err, ShouldBeNil)
		}

		// 历史中用户/助手消息必须成对相邻，顺序由各轮次的提交序决定
		messages, err := svc.GetMessages(ctx, resp.ConversationID)
		So(err, ShouldBeNil)
		So(len(messages), ShouldEqual, 2*(turns+1))
		for i := 0; i < len(messages); i += 2 {
			So(messages[i].Role, ShouldEqual, model.RoleUser)
			So(messages[i+1].Role, ShouldEqual, model.RoleAssistant)
			So(messages[i+1].Content, ShouldEqual, "re: "+messages[i].Content)
		}
	})
}

func TestChatService_ListModels(t *testing.T) {
	Convey("ListModels 实时反映引擎目录", t, func() {
		ctx := context.Background()
		engine := &stubEngine{}
		svc := newTestService(newMemStore(), engine, &stubAugmenter{})

		Convey("引擎正常时返回目录", func() {
			models, err := svc.ListModels(ctx)
			So(err, ShouldBeNil)
			So(len(models), ShouldEqual, 2)
			So(models[0].Name, ShouldEqual, "phi3:mini")
		})

		Convey("引擎不可用时返回空列表和上游错误", func() {
			engine.err = fmt.Errorf("%w: connection refused", ollama.ErrUnavailable)

			models, err := svc.ListModels(ctx)
			So(errors.Is(err, ErrUpstreamUnavailable), ShouldBeTrue)
			So(models, ShouldNotBeNil)
			So(len(models), ShouldEqual, 0)
		})
	})
}
