package dto

import "time"

// SendMessageReq 发送消息请求体
// conversation_id 为 0 时表示顾客首次发起会话，由服务端定位或创建
type SendMessageReq struct {
	ConversationID uint64 `json:"conversation_id"`
	Content        string `json:"content" binding:"required"`
	ClientMsgID    string `json:"client_msg_id"` // 客户端乐观消息的本地 ID，服务端原样回传
}

// TypingReq 输入状态上报请求体
// is_typing 为 false 是合法取值，不能挂 required 校验
type TypingReq struct {
	ConversationID uint64 `json:"conversation_id"`
	UserID         uint64 `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
	UserName       string `json:"user_name"`
}

// MarkReadReq 标记已读请求体
type MarkReadReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID             string    `json:"id"`
	ConversationID uint64    `json:"conversation_id"`
	SenderID       uint64    `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	ClientMsgID    string    `json:"client_msg_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ConversationID uint64    `json:"conversation_id"`
	CustomerID     uint64    `json:"customer_id"`
	AdminID        uint64    `json:"admin_id"`
	LastMsgContent string    `json:"last_msg_content"`
	LastSenderID   uint64    `json:"last_sender_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
	UnreadCount    uint64    `json:"unread_count"`
}

// StatsDTO 客服会话统计
type StatsDTO struct {
	TotalConversations  int64 `json:"total_conversations"`
	UnreadConversations int64 `json:"unread_conversations"`
	TodayMessages       int64 `json:"today_messages"`
}

// OnlineUsersDTO 在线用户快照
type OnlineUsersDTO struct {
	OnlineUsers []uint64 `json:"online_users"`
}

// ChatEventDTO 实时推送帧，type 区分事件种类
type ChatEventDTO struct {
	Type           string      `json:"type"`
	ConversationID uint64      `json:"conversation_id,omitempty"`
	Message        *MessageDTO `json:"message,omitempty"`
	UserID         uint64      `json:"user_id,omitempty"`
	UserName       string      `json:"user_name,omitempty"`
	IsTyping       bool        `json:"is_typing,omitempty"`
	Online         bool        `json:"online,omitempty"`
}

// SuccessDTO 简单布尔确认
type SuccessDTO struct {
	Success bool `json:"success"`
}
