package handler

import (
	"Shoptalk/internal/api/config"
	"Shoptalk/internal/api/dto"
	"Shoptalk/internal/pkg/consts"
	"Shoptalk/internal/pkg/hub"
	"Shoptalk/internal/pkg/response"
	"Shoptalk/internal/pkg/security"
	"Shoptalk/internal/service"
	"fmt"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// 心跳间隔需小于反向代理的空闲超时，也用于刷新在线表
const heartbeatInterval = 25 * time.Second

// StreamHandler 主推送通道：每客户端一条长连 SSE 流
type StreamHandler struct {
	chatService service.ChatService
	hub         *hub.Hub
}

func NewStreamHandler(chatService service.ChatService, h *hub.Hub) *StreamHandler {
	return &StreamHandler{chatService: chatService, hub: h}
}

// Connect 建立事件流
// 连接生命周期：注册 -> 顺序写出 -> 任一退出路径上注销并释放传输资源
func (s *StreamHandler) Connect(c *gin.Context) {
	// 鉴权：EventSource 无法带自定义头，token 走查询参数
	token := c.Query("token")
	if token == "" {
		response.Fail(c, response.Unauthorized, "Token 缺失或格式错误")
		return
	}
	claims, err := security.ValidateToken(token)
	if err != nil {
		log.Warn("SSE 鉴权失败", "err", err)
		response.Fail(c, response.Unauthorized, "Token 无效或已过期")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Fail(c, response.InternalServerError, "streaming unsupported")
		return
	}

	userID := claims.UserID
	isAdmin := claims.IsAdmin()

	keys, err := s.chatService.StreamKeys(c.Request.Context(), userID, isAdmin)
	if err != nil {
		log.Error("获取订阅键失败", "userID", userID, "err", err)
		response.Error(c, err)
		return
	}

	client := hub.NewClient(userID, claims.UserName, isAdmin, config.Cfg.Chat.ClientBuffer)
	for _, key := range keys {
		s.hub.Register(key, client)
	}
	defer s.hub.Unregister(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info("用户 SSE 连接已建立", "userID", userID, "connID", client.ID, "keys", len(keys))
	s.notifyPresence(userID, claims.UserName, true)
	defer s.notifyPresence(userID, claims.UserName, false)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-client.Events():
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
				log.Info("SSE 推送失败，关闭连接", "userID", userID, "connID", client.ID, "err", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
			s.hub.Touch(userID)
		case <-client.Done():
			// Hub 侧摘除（清理任务或进程退出）
			return
		case <-c.Request.Context().Done():
			log.Info("用户 SSE 连接已断开", "userID", userID, "connID", client.ID)
			return
		}
	}
}

// notifyPresence 把上下线事件推给客服工作台
func (s *StreamHandler) notifyPresence(userID uint64, userName string, online bool) {
	s.hub.Broadcast(consts.ChatAdminAudience, &dto.ChatEventDTO{
		Type:     consts.EventPresence,
		UserID:   userID,
		UserName: userName,
		Online:   online,
	})
}
