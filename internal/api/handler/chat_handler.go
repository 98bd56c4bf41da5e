package handler

import (
	"Shoptalk/internal/api/dto"
	"Shoptalk/internal/pkg/response"
	"Shoptalk/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService service.ChatService
}

func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// SendMessage 发送消息接口
func (s *ChatHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	// 从 Context 中获取中间件解析出的当前用户身份
	senderID := c.GetUint64("userID")
	isAdmin := c.GetBool("isAdmin")

	res, err := s.chatService.SendMessage(c.Request.Context(), senderID, isAdmin, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// MarkRead 标记已读接口
func (s *ChatHandler) MarkRead(c *gin.Context) {
	var req dto.MarkReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrMissingFields)
		return
	}

	userID := c.GetUint64("userID")

	if err := s.chatService.MarkRead(c.Request.Context(), userID, req.ConversationID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.SuccessDTO{Success: true})
}

// Typing 输入状态上报接口
// conversation_id 与 user_id 缺一不可，user_name 可选
func (s *ChatHandler) Typing(c *gin.Context) {
	var req dto.TypingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if req.ConversationID == 0 || req.UserID == 0 {
		response.Error(c, service.ErrMissingFields)
		return
	}

	if err := s.chatService.SetTyping(c.Request.Context(), &req); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.SuccessDTO{Success: true})
}

// GetChatHistory 获取历史消息
func (s *ChatHandler) GetChatHistory(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Query("conversationId"), 10, 64)
	beforeID := c.Query("beforeId")
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	userID := c.GetUint64("userID")

	res, err := s.chatService.GetChatHistory(c.Request.Context(), userID, convID, beforeID, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetConversationList 获取会话列表
func (s *ChatHandler) GetConversationList(c *gin.Context) {
	userID := c.GetUint64("userID")
	isAdmin := c.GetBool("isAdmin")

	res, err := s.chatService.GetConversationList(c.Request.Context(), userID, isAdmin)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetOnlineUsers 在线用户快照
func (s *ChatHandler) GetOnlineUsers(c *gin.Context) {
	users := s.chatService.OnlineUsers()
	response.Success(c, dto.OnlineUsersDTO{OnlineUsers: users})
}

// GetStats 客服工作台统计
func (s *ChatHandler) GetStats(c *gin.Context) {
	res, err := s.chatService.GetStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
