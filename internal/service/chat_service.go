package service

import (
	"Shoptalk/internal/api/config"
	"Shoptalk/internal/api/dto"
	"Shoptalk/internal/model"
	"Shoptalk/internal/pkg/consts"
	"Shoptalk/internal/pkg/hub"
	"Shoptalk/internal/pkg/kafka"
	"Shoptalk/internal/pkg/mongo"
	"Shoptalk/internal/pkg/redis"
	"Shoptalk/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

// ChatService 客服聊天核心服务接口定义
// 会话状态变更的唯一入口：校验、落库、提交后广播
type ChatService interface {
	SendMessage(ctx context.Context, senderID uint64, senderIsAdmin bool, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	MarkRead(ctx context.Context, readerID uint64, convID uint64) error
	SetTyping(ctx context.Context, req *dto.TypingReq) error
	GetStats(ctx context.Context) (*dto.StatsDTO, error)
	GetChatHistory(ctx context.Context, userID uint64, convID uint64, beforeID string, pageSize int) ([]*dto.MessageDTO, error)
	GetConversationList(ctx context.Context, userID uint64, isAdmin bool) ([]*dto.ConversationDTO, error)
	StreamKeys(ctx context.Context, userID uint64, isAdmin bool) ([]string, error)
	OnlineUsers() []uint64
}

type chatServiceImpl struct {
	convRepo repository.ConversationRepo
	msgRepo  mongo.MessageRepo
	hub      *hub.Hub
	producer *kafka.EventProducer // 可为 nil，分析事件为可选链路
	cfg      config.ChatConfig
}

func NewChatService(convRepo repository.ConversationRepo, msgRepo mongo.MessageRepo, h *hub.Hub, producer *kafka.EventProducer, cfg config.ChatConfig) ChatService {
	return &chatServiceImpl{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		hub:      h,
		producer: producer,
		cfg:      cfg,
	}
}

// SendMessage 发送消息
// 广播严格在两段持久化都提交之后，任何落库失败都不得外泄事件
func (s *chatServiceImpl) SendMessage(ctx context.Context, senderID uint64, senderIsAdmin bool, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	conv, err := s.resolveConversation(ctx, senderID, senderIsAdmin, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, UnauthorizedError
	}

	recipientIsAdmin := senderID == conv.CustomerID

	msg := &mongo.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		IsRead:         false,
		ClientMsgID:    req.ClientMsgID,
		CreatedAt:      time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.msgRepo.SaveMessage(writeCtx, msg); err != nil {
		return nil, pkgerrors.Wrap(err, "save message")
	}

	if err := s.convRepo.TouchLastMessage(ctx, conv.ID, content, senderID, recipientIsAdmin); err != nil {
		return nil, pkgerrors.Wrap(err, "touch conversation")
	}

	msgDTO := toMessageDTO(msg)
	event := &dto.ChatEventDTO{
		Type:           consts.EventNewMessage,
		ConversationID: conv.ID,
		Message:        msgDTO,
	}
	s.hub.Broadcast(consts.ConversationKey(conv.ID), event)
	if !senderIsAdmin {
		// 顾客来信同步推给客服工作台的全局视图
		s.hub.Broadcast(consts.ChatAdminAudience, event)
	}

	s.publishAnalytics("message_stored", msgDTO)

	return msgDTO, nil
}

// MarkRead 标记已读
// 单次条件更新保证幂等：二次调用翻转 0 条，已读消息绝不回退
func (s *chatServiceImpl) MarkRead(ctx context.Context, readerID uint64, convID uint64) error {
	conv, err := s.convRepo.Get(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return pkgerrors.Wrap(err, "load conversation")
	}
	if !conv.HasParticipant(readerID) {
		return UnauthorizedError
	}

	modified, err := s.msgRepo.MarkConversationRead(ctx, convID, readerID)
	if err != nil {
		return pkgerrors.Wrap(err, "mark conversation read")
	}

	if err := s.convRepo.ResetUnread(ctx, convID, readerID == conv.AdminID); err != nil {
		return pkgerrors.Wrap(err, "reset unread")
	}

	// 零行变更也允许广播一次回执，消费端按幂等处理
	s.hub.Broadcast(consts.ConversationKey(convID), &dto.ChatEventDTO{
		Type:           consts.EventReadReceipt,
		ConversationID: convID,
		UserID:         readerID,
	})

	if modified > 0 {
		s.publishAnalytics("conversation_read", map[string]interface{}{
			"conversation_id": convID,
			"reader_id":       readerID,
			"modified":        modified,
		})
	}

	return nil
}

// SetTyping 输入状态广播，零持久化
// 排除发起方自己的连接，避免输入回显
func (s *chatServiceImpl) SetTyping(ctx context.Context, req *dto.TypingReq) error {
	if req.ConversationID == 0 || req.UserID == 0 {
		return ErrMissingFields
	}

	s.hub.BroadcastExcept(consts.ConversationKey(req.ConversationID), req.UserID, &dto.ChatEventDTO{
		Type:           consts.EventTyping,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		UserName:       req.UserName,
		IsTyping:       req.IsTyping,
	})
	return nil
}

// GetStats 客服工作台统计，按需聚合并短 TTL 缓存
func (s *chatServiceImpl) GetStats(ctx context.Context) (*dto.StatsDTO, error) {
	if cached := s.cachedStats(ctx); cached != nil {
		return cached, nil
	}

	total, err := s.convRepo.CountTotal(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "count conversations")
	}
	unread, err := s.convRepo.CountUnreadForAdmin(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "count unread conversations")
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := s.msgRepo.CountSince(ctx, startOfDay)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "count today messages")
	}

	stats := &dto.StatsDTO{
		TotalConversations:  total,
		UnreadConversations: unread,
		TodayMessages:       today,
	}
	s.cacheStats(ctx, stats)
	return stats, nil
}

// GetChatHistory 拉取历史消息
func (s *chatServiceImpl) GetChatHistory(ctx context.Context, userID uint64, convID uint64, beforeID string, pageSize int) ([]*dto.MessageDTO, error) {
	conv, err := s.convRepo.Get(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, pkgerrors.Wrap(err, "load conversation")
	}
	if !conv.HasParticipant(userID) {
		return nil, UnauthorizedError
	}

	if pageSize <= 0 {
		pageSize = s.cfg.HistoryPageSize
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	models, err := s.msgRepo.GetHistory(ctx, convID, beforeID, pageSize)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "load history")
	}

	res := make([]*dto.MessageDTO, 0, len(models))
	for _, m := range models {
		res = append(res, toMessageDTO(m))
	}
	return res, nil
}

// GetConversationList 获取会话列表，客服视角为全量
func (s *chatServiceImpl) GetConversationList(ctx context.Context, userID uint64, isAdmin bool) ([]*dto.ConversationDTO, error) {
	var convs []*model.Conversation
	var err error
	if isAdmin {
		convs, err = s.convRepo.ListAll(ctx)
	} else {
		convs, err = s.convRepo.ListForCustomer(ctx, userID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list conversations")
	}

	res := make([]*dto.ConversationDTO, 0, len(convs))
	for _, c := range convs {
		res = append(res, &dto.ConversationDTO{
			ConversationID: c.ID,
			CustomerID:     c.CustomerID,
			AdminID:        c.AdminID,
			LastMsgContent: c.LastMsgContent,
			LastSenderID:   c.LastSenderID,
			LastMessageAt:  c.LastMessageAt,
			UnreadCount:    c.UnreadFor(userID),
		})
	}
	return res, nil
}

// StreamKeys 计算一条流式连接应订阅的全部广播键
func (s *chatServiceImpl) StreamKeys(ctx context.Context, userID uint64, isAdmin bool) ([]string, error) {
	keys := []string{consts.UserKey(userID)}

	convs, err := s.GetConversationList(ctx, userID, isAdmin)
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		keys = append(keys, consts.ConversationKey(c.ConversationID))
	}

	if isAdmin {
		keys = append(keys, consts.ChatAdminAudience)
	}
	return keys, nil
}

// OnlineUsers 在线用户快照
func (s *chatServiceImpl) OnlineUsers() []uint64 {
	return s.hub.OnlineUsers()
}

// resolveConversation 定位消息归属的会话
// 顾客不带会话 ID 时指派默认客服并建会话；客服必须显式指定
func (s *chatServiceImpl) resolveConversation(ctx context.Context, senderID uint64, senderIsAdmin bool, convID uint64) (*model.Conversation, error) {
	if convID == 0 {
		if senderIsAdmin {
			return nil, ErrConversationRequired
		}
		conv, err := s.convRepo.GetOrCreate(ctx, senderID, s.cfg.SupportAdminID)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "get or create conversation")
		}
		return conv, nil
	}

	conv, err := s.convRepo.Get(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, pkgerrors.Wrap(err, "load conversation")
	}
	return conv, nil
}

func (s *chatServiceImpl) cachedStats(ctx context.Context) *dto.StatsDTO {
	if redis.GetRdbClient() == nil || s.cfg.StatsCacheTTL <= 0 {
		return nil
	}
	raw, err := redis.GetValue(ctx, consts.ChatStatsCacheKey)
	if err != nil || raw == "" {
		return nil
	}
	var stats dto.StatsDTO
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil
	}
	return &stats
}

func (s *chatServiceImpl) cacheStats(ctx context.Context, stats *dto.StatsDTO) {
	if redis.GetRdbClient() == nil || s.cfg.StatsCacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	ttl := time.Duration(s.cfg.StatsCacheTTL) * time.Second
	if err := redis.SetWithExpiration(ctx, consts.ChatStatsCacheKey, data, ttl); err != nil {
		log.WarnContext(ctx, "cache stats failed", "err", err)
	}
}

// publishAnalytics 提交后异步投递分析事件，失败只记日志
func (s *chatServiceImpl) publishAnalytics(eventType string, payload interface{}) {
	if s.producer == nil {
		return
	}
	s.producer.Publish(eventType, payload)
}

func toMessageDTO(m *mongo.Message) *dto.MessageDTO {
	return &dto.MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		IsRead:         m.IsRead,
		ClientMsgID:    m.ClientMsgID,
		CreatedAt:      m.CreatedAt,
	}
}
