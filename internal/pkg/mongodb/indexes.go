package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes 创建所有集合的索引
// 应用启动时统一调用
func EnsureIndexes(db *mongo.Database) error {
	ctx := context.Background()

	// conversations 集合索引
	convColl := db.Collection("conversations")
	convIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_updated"),
		},
		{
			Keys:    bson.D{bson.E{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_created"),
		},
	}

	if err := createIndexes(ctx, convColl, convIndexes); err != nil {
		return err
	}

	// messages 集合索引
	// (conversation_id, seq) 同时服务于按序读取和级联删除
	msgColl := db.Collection("messages")
	msgIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				bson.E{Key: "conversation_id", Value: 1},
				bson.E{Key: "seq", Value: 1},
			},
			Options: options.Index().SetName("idx_conversation_seq").SetUnique(true),
		},
	}

	return createIndexes(ctx, msgColl, msgIndexes)
}

// createIndexes 在集合上创建一组索引
func createIndexes(ctx context.Context, coll *mongo.Collection, indexes []mongo.IndexModel) error {
	if len(indexes) == 0 {
		return nil
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
