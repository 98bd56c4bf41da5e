package model

import "time"

// Conversation 客服会话主表
// 顾客与客服的配对在创建后不可变更；last_message_at 随每条新消息单调推进
type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID     uint64    `gorm:"not null;uniqueIndex:idx_pair" json:"customerId"`
	AdminID        uint64    `gorm:"not null;uniqueIndex:idx_pair;index" json:"adminId"`
	LastMsgContent string    `gorm:"type:varchar(255)" json:"lastMsgContent"`
	LastSenderID   uint64    `gorm:"not null;default:0" json:"lastSenderId"`
	UnreadCustomer uint64    `gorm:"not null;default:0" json:"unreadCustomer"` // 顾客侧未读数
	UnreadAdmin    uint64    `gorm:"not null;default:0" json:"unreadAdmin"`    // 客服侧未读数
	LastMessageAt  time.Time `gorm:"index" json:"lastMessageAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Conversation) TableName() string { return "conversations" }

// HasParticipant 判断用户是否为会话参与方
func (c *Conversation) HasParticipant(userID uint64) bool {
	return userID == c.CustomerID || userID == c.AdminID
}

// PeerID 返回对手方 ID
func (c *Conversation) PeerID(userID uint64) uint64 {
	if userID == c.CustomerID {
		return c.AdminID
	}
	return c.CustomerID
}

// UnreadFor 返回指定一侧的未读数
func (c *Conversation) UnreadFor(userID uint64) uint64 {
	if userID == c.AdminID {
		return c.UnreadAdmin
	}
	return c.UnreadCustomer
}
