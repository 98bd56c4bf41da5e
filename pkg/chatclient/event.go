package chatclient

import "time"

// Event 服务端经 SSE / WebSocket 下发的事件帧
type Event struct {
	Type           string   `json:"type"`
	ConversationID uint64   `json:"conversation_id,omitempty"`
	Message        *Message `json:"message,omitempty"`
	UserID         uint64   `json:"user_id,omitempty"`
	UserName       string   `json:"user_name,omitempty"`
	IsTyping       bool     `json:"is_typing,omitempty"`
	Online         bool     `json:"online,omitempty"`
}

// Message 服务端确认后的消息
type Message struct {
	ID             string    `json:"id"`
	ConversationID uint64    `json:"conversation_id"`
	SenderID       uint64    `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	ClientMsgID    string    `json:"client_msg_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PendingMessage 本地乐观占位消息的快照
// 服务端确认帧到达后占位被撤下，确认后的消息经 OnEvent 交付
type PendingMessage struct {
	ClientMsgID    string
	ConversationID uint64
	Content        string
	Optimistic     bool
}
