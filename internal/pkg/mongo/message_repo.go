package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepo interface {
	SaveMessage(ctx context.Context, msg *Message) error
	GetHistory(ctx context.Context, convID uint64, beforeID string, pageSize int) ([]*Message, error)
	MarkConversationRead(ctx context.Context, convID uint64, readerID uint64) (int64, error)
	CountSince(ctx context.Context, t time.Time) (int64, error)
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("message"),
	}
}

// SaveMessage 将消息存入 MongoDB
// 服务端统一生成 ObjectID，保证返回给调用方的 ID 即落库 ID
func (s *messageRepoImpl) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = primitive.NewObjectID().Hex()
	}
	_, err := s.col.InsertOne(ctx, msg)
	return err
}

// GetHistory 历史消息查询逻辑
// beforeID 为当前页面最旧一条消息的 ID。如果是第一页，传空串。
func (s *messageRepoImpl) GetHistory(ctx context.Context, convID uint64, beforeID string, pageSize int) ([]*Message, error) {
	filter := bson.M{"conversation_id": convID}

	// 游标过滤：ObjectID 携带时间戳，按 _id 倒序等价于按时间倒序
	if beforeID != "" {
		filter["_id"] = bson.M{"$lt": beforeID}
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(pageSize))

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkConversationRead 单次原子更新：把会话内所有非阅读方发送且未读的消息置为已读
// 返回实际翻转的条数，重复调用翻转 0 条
func (s *messageRepoImpl) MarkConversationRead(ctx context.Context, convID uint64, readerID uint64) (int64, error) {
	filter := bson.M{
		"conversation_id": convID,
		"sender_id":       bson.M{"$ne": readerID},
		"is_read":         false,
	}
	res, err := s.col.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// CountSince 统计指定时间之后的消息总量，供当日统计使用
func (s *messageRepoImpl) CountSince(ctx context.Context, t time.Time) (int64, error) {
	return s.col.CountDocuments(ctx, bson.M{"created_at": bson.M{"$gte": t}})
}
