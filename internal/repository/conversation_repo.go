package repository

import (
	"Shoptalk/internal/model"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepo interface {
	GetOrCreate(ctx context.Context, customerID, adminID uint64) (*model.Conversation, error)
	Get(ctx context.Context, convID uint64) (*model.Conversation, error)

	TouchLastMessage(ctx context.Context, convID uint64, preview string, senderID uint64, recipientIsAdmin bool) error
	ResetUnread(ctx context.Context, convID uint64, readerIsAdmin bool) error

	ListForCustomer(ctx context.Context, customerID uint64) ([]*model.Conversation, error)
	ListAll(ctx context.Context) ([]*model.Conversation, error)

	CountTotal(ctx context.Context) (int64, error)
	CountUnreadForAdmin(ctx context.Context) (int64, error)
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// GetOrCreate 定位顾客与客服的会话，不存在则创建
// 唯一索引 idx_pair 兜底并发创建，冲突时回查既有记录
func (s *conversationRepoImpl) GetOrCreate(ctx context.Context, customerID, adminID uint64) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND admin_id = ?", customerID, adminID).
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv = model.Conversation{
		CustomerID:    customerID,
		AdminID:       adminID,
		LastMessageAt: time.Now(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&conv).Error
	if err != nil {
		return nil, err
	}
	if conv.ID == 0 {
		err = s.db.WithContext(ctx).
			Where("customer_id = ? AND admin_id = ?", customerID, adminID).
			First(&conv).Error
	}
	return &conv, err
}

// Get 根据会话 ID 获取会话
func (s *conversationRepoImpl) Get(ctx context.Context, convID uint64) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).First(&conv, convID).Error
	return &conv, err
}

// TouchLastMessage 新消息落库后原子更新会话预览、接收方未读数与活跃时间
func (s *conversationRepoImpl) TouchLastMessage(ctx context.Context, convID uint64, preview string, senderID uint64, recipientIsAdmin bool) error {
	unreadCol := "unread_customer"
	if recipientIsAdmin {
		unreadCol = "unread_admin"
	}

	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", convID).
		Updates(map[string]interface{}{
			"last_msg_content": preview,
			"last_sender_id":   senderID,
			unreadCol:          gorm.Expr(unreadCol + " + 1"),
			"last_message_at":  time.Now(),
		}).Error
}

// ResetUnread 已读回执：清零阅读方一侧的未读数
func (s *conversationRepoImpl) ResetUnread(ctx context.Context, convID uint64, readerIsAdmin bool) error {
	unreadCol := "unread_customer"
	if readerIsAdmin {
		unreadCol = "unread_admin"
	}

	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", convID).
		Update(unreadCol, 0).Error
}

// ListForCustomer 顾客视角的会话列表
func (s *conversationRepoImpl) ListForCustomer(ctx context.Context, customerID uint64) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("last_message_at DESC").
		Find(&convs).Error
	return convs, err
}

// ListAll 客服工作台的全量会话列表
func (s *conversationRepoImpl) ListAll(ctx context.Context) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	err := s.db.WithContext(ctx).
		Order("last_message_at DESC").
		Find(&convs).Error
	return convs, err
}

// CountTotal 会话总数
func (s *conversationRepoImpl) CountTotal(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).Count(&total).Error
	return total, err
}

// CountUnreadForAdmin 客服侧存在未读消息的会话数
func (s *conversationRepoImpl) CountUnreadForAdmin(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("unread_admin > 0").
		Count(&count).Error
	return count, err
}
