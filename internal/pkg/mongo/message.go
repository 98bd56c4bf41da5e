package mongo

import (
	"time"
)

// Message MongoDB 消息明细模型
type Message struct {
	ID             string    `bson:"_id,omitempty" json:"id"`                         // ObjectID 十六进制串
	ConversationID uint64    `bson:"conversation_id" json:"conversationId"`           // 关联 MySQL 的会话 ID
	SenderID       uint64    `bson:"sender_id" json:"senderId"`                       // 发送者 UID
	Content        string    `bson:"content" json:"content"`                          // 文本内容
	IsRead         bool      `bson:"is_read" json:"isRead"`                           // 已读标记，只允许 false -> true
	ClientMsgID    string    `bson:"client_msg_id,omitempty" json:"clientMsgId"`      // 客户端乐观消息的本地 ID
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`                     // 服务端落库时间
}
