package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
)

// ErrNotFound 对话不存在
var ErrNotFound = errors.New("对话不存在")

// ConversationRepo 对话仓库
// conversations 与 messages 两个集合，消息通过 conversation_id 关联，
// 读取顺序由对话内单调递增的 seq 决定
type ConversationRepo struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewConversationRepo 创建对话仓库
func NewConversationRepo(db *mongo.Database) *ConversationRepo {
	return &ConversationRepo{
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
	}
}

// Create 创建对话
func (r *ConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := r.conversations.InsertOne(ctx, conv)
	return err
}

// FindByID 根据 ID 查询对话
func (r *ConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListSummaries 查询对话列表（按 updated_at 倒序，不含消息）
func (r *ConversationRepo) ListSummaries(ctx context.Context, limit, offset int64) ([]model.ConversationSummary, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "updated_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset).
		SetProjection(bson.M{"_id": 1, "title": 1, "updated_at": 1})

	cursor, err := r.conversations.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	summaries := make([]model.ConversationSummary, 0)
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, err
	}

	return summaries, nil
}

// AppendMessage 追加消息
// 先分配 seq，再写入消息，最后才刷新 updated_at——
// 写入失败时对话的 updated_at 保持不变
func (r *ConversationRepo) AppendMessage(ctx context.Context, conversationID string, msg *model.Message) error {
	// 分配对话内序号
	var conv model.Conversation
	err := r.conversations.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$inc": bson.M{"msg_seq": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	msg.ConversationID = conversationID
	msg.Seq = conv.MsgSeq

	if _, err := r.messages.InsertOne(ctx, msg); err != nil {
		return err
	}

	_, err = r.conversations.UpdateByID(ctx, conversationID,
		bson.M{"$set": bson.M{"updated_at": time.Now()}})
	return err
}

// GetMessages 按追加顺序读取对话的全部消息
func (r *ConversationRepo) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	// 对话必须存在，空消息列表与未知对话是不同的结果
	if _, err := r.FindByID(ctx, conversationID); err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{bson.E{Key: "seq", Value: 1}})
	cursor, err := r.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := make([]model.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// Delete 删除对话及其全部消息
// 两步操作不跨集合事务：先删对话记录，对外即刻不可见；
// 第二步失败只会残留孤儿消息，读取都先校验对话存在，孤儿不可达，
// 且 DeleteMany 可安全重试
func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	result, err := r.conversations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}

	_, err = r.messages.DeleteMany(ctx, bson.M{"conversation_id": id})
	return err
}

// ClearMessages 清空对话消息，保留对话记录
// 标题重置为空，时间戳刷新；第二步 DeleteMany 失败时调用方收到错误，
// 重试整个操作即可收敛，不会留下不可恢复的中间态
func (r *ConversationRepo) ClearMessages(ctx context.Context, id string) error {
	result, err := r.conversations.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"title": "", "updated_at": time.Now()},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}

	_, err = r.messages.DeleteMany(ctx, bson.M{"conversation_id": id})
	return err
}

// SetTitle 更新对话标题
func (r *ConversationRepo) SetTitle(ctx context.Context, id, title string) error {
	result, err := r.conversations.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"title": title, "updated_at": time.Now()},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
