package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pomelo/internal/ai"
	"pomelo/internal/model"
	"pomelo/internal/pkg/cache"
	"pomelo/internal/pkg/id"
	"pomelo/internal/pkg/ollama"
	"pomelo/internal/repository"
)

// 业务错误
var (
	ErrConversationNotFound = errors.New("对话不存在")
	ErrUpstreamUnavailable  = errors.New("推理引擎不可用")
	ErrModelNotFound        = errors.New("模型不存在")
	ErrStorage              = errors.New("存储层错误")
)

// ConversationStore 对话存储接口
// 由 repository.ConversationRepo 实现；未知对话返回 repository.ErrNotFound
type ConversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	ListSummaries(ctx context.Context, limit, offset int64) ([]model.ConversationSummary, error)
	AppendMessage(ctx context.Context, conversationID string, msg *model.Message) error
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	Delete(ctx context.Context, id string) error
	ClearMessages(ctx context.Context, id string) error
	SetTitle(ctx context.Context, id, title string) error
}

// InferenceEngine 推理引擎接口
// 由 ollama.Client 实现
type InferenceEngine interface {
	Chat(ctx context.Context, model string, messages []ollama.Message) (string, error)
	ListModels(ctx context.Context) ([]ollama.Model, error)
}

// Augmenter 搜索增强接口
// 增强失败返回 (“”, false)，永不返回错误
type Augmenter interface {
	Augment(ctx context.Context, query string) (string, bool)
}

// ChatService 对话服务 - 业务逻辑层
// 职责: 编排一次对话轮次的完整流程，持有对话生命周期
type ChatService struct {
	store         ConversationStore
	engine        InferenceEngine
	augmenter     Augmenter
	composer      *ai.Composer
	cache         *cache.RedisCache // 可选，消息读取缓存
	defaultModel  string
	searchDefault bool // 请求省略 enable_search 时的取值

	locks *keyedMutex // 同一对话的轮次串行化
}

// NewChatService 创建对话服务
func NewChatService(store ConversationStore, engine InferenceEngine, augmenter Augmenter,
	composer *ai.Composer, redisCache *cache.RedisCache, defaultModel string, searchDefault bool,
) *ChatService {
	return &ChatService{
		store:         store,
		engine:        engine,
		augmenter:     augmenter,
		composer:      composer,
		cache:         redisCache,
		defaultModel:  defaultModel,
		searchDefault: searchDefault,
		locks:         newKeyedMutex(),
	}
}

// Chat 处理一次对话轮次
// 流程: 解析模型 -> 定位/创建对话 -> 读历史 -> 存用户消息 ->
// 搜索增强(可选) -> 组装提示词 -> 调用推理 -> 存助手消息
func (s *ChatService) Chat(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	// 模型归一化：空白模型名在此统一替换为默认模型，
	// 推理引擎永远不会收到空模型
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = s.defaultModel
	}

	// enable_search 的归一化与模型同理：请求省略时落到配置默认值
	enableSearch := s.searchDefault
	if req.EnableSearch != nil {
		enableSearch = *req.EnableSearch
	}

	conversationID := req.ConversationID
	isNew := conversationID == ""
	if isNew {
		conversationID = id.New()
	}

	logger := log.With().Str("conversation_id", conversationID).Str("model", modelName).Logger()

	// 同一对话串行处理，不同对话并行
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	// 1. 定位或隐式创建对话
	var conv *model.Conversation
	if isNew {
		conv = &model.Conversation{
			ID:    conversationID,
			Title: DeriveTitle(req.Message),
			Model: modelName,
		}
		if err := s.store.Create(ctx, conv); err != nil {
			return nil, s.storeErr(err)
		}
	} else {
		var err error
		conv, err = s.store.FindByID(ctx, conversationID)
		if err != nil {
			return nil, s.storeErr(err)
		}
	}

	// 2. 读取历史（新消息写入之前的快照）
	history, err := s.messages(ctx, conversationID)
	if err != nil {
		return nil, s.storeErr(err)
	}

	// 3. 先持久化用户消息，推理失败也不丢已接受的输入
	userMsg := &model.Message{
		Role:      model.RoleUser,
		Content:   req.Message,
		Model:     modelName,
		Timestamp: time.Now(),
	}
	if err := s.store.AppendMessage(ctx, conversationID, userMsg); err != nil {
		return nil, s.storeErr(err)
	}
	s.invalidate(ctx, conversationID)

	// 4. 搜索增强：尽力而为，失败静默降级为无增强
	var searchContext string
	if enableSearch {
		if block, ok := s.augmenter.Augment(ctx, req.Message); ok {
			searchContext = block
		}
	}

	// 5. 组装提示词并调用推理引擎
	messages := s.composer.Compose(history, req.Message, searchContext, time.Now())

	reply, err := s.engine.Chat(ctx, modelName, messages)
	if err != nil {
		logger.Error().Err(err).Msg("inference failed, user message kept")
		return nil, s.engineErr(err)
	}

	// 6. 持久化助手消息
	assistantMsg := &model.Message{
		Role:      model.RoleAssistant,
		Content:   reply,
		Model:     modelName,
		Timestamp: time.Now(),
	}
	if err := s.store.AppendMessage(ctx, conversationID, assistantMsg); err != nil {
		return nil, s.storeErr(err)
	}
	s.invalidate(ctx, conversationID)

	// 7. 清空过的对话没有标题，用本轮首条用户消息补一个
	if !isNew && conv.Title == "" {
		if err := s.store.SetTitle(ctx, conversationID, DeriveTitle(req.Message)); err != nil {
			logger.Warn().Err(err).Msg("failed to set conversation title")
		}
	}

	logger.Info().Bool("search", searchContext != "").Msg("chat turn completed")

	return &model.ChatResponse{
		Response:       reply,
		ConversationID: conversationID,
		Model:          modelName,
		Timestamp:      assistantMsg.Timestamp,
	}, nil
}

// ListConversations 对话列表，按最近活跃排序
func (s *ChatService) ListConversations(ctx context.Context, limit, offset int64) ([]model.ConversationSummary, error) {
	summaries, err := s.store.ListSummaries(ctx, limit, offset)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return summaries, nil
}

// GetConversation 获取单个对话记录
func (s *ChatService) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.FindByID(ctx, conversationID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return conv, nil
}

// GetMessages 按追加顺序获取对话消息
func (s *ChatService) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	messages, err := s.messages(ctx, conversationID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return messages, nil
}

// DeleteConversation 删除对话及其全部消息
func (s *ChatService) DeleteConversation(ctx context.Context, conversationID string) error {
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	if err := s.store.Delete(ctx, conversationID); err != nil {
		return s.storeErr(err)
	}
	s.invalidate(ctx, conversationID)
	return nil
}

// ClearMessages 清空对话消息，保留对话记录
func (s *ChatService) ClearMessages(ctx context.Context, conversationID string) error {
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	if err := s.store.ClearMessages(ctx, conversationID); err != nil {
		return s.storeErr(err)
	}
	s.invalidate(ctx, conversationID)
	return nil
}

// ListModels 实时查询推理引擎的模型目录
// 引擎不可用时返回空列表和 ErrUpstreamUnavailable，由调用方回退到默认模型
func (s *ChatService) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	engineModels, err := s.engine.ListModels(ctx)
	if err != nil {
		return []model.ModelInfo{}, s.engineErr(err)
	}

	infos := make([]model.ModelInfo, 0, len(engineModels))
	for _, m := range engineModels {
		infos = append(infos, model.ModelInfo{
			Name:       m.Name,
			Size:       m.Size,
			Digest:     m.Digest,
			ModifiedAt: m.ModifiedAt,
		})
	}
	return infos, nil
}

// messages 读取对话消息，优先走缓存
func (s *ChatService) messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	key := cache.ConversationCacheKey(conversationID)

	if s.cache != nil {
		var cached []model.Message
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	messages, err := s.store.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, messages, cache.ConversationCacheTTL); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to cache messages")
		}
	}

	return messages, nil
}

// invalidate 对话变更后失效缓存
func (s *ChatService) invalidate(ctx context.Context, conversationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.ConversationCacheKey(conversationID)); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to invalidate cache")
	}
}

// storeErr 存储层错误归一化
func (s *ChatService) storeErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrConversationNotFound
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

// engineErr 推理引擎错误归一化
func (s *ChatService) engineErr(err error) error {
	if errors.Is(err, ollama.ErrModelNotFound) {
		return fmt.Errorf("%w: %v", ErrModelNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

// keyedMutex 按 key 的互斥锁，带引用计数回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock 锁定指定 key
func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

// Unlock 释放指定 key，无等待者时回收条目
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	entry := k.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}
