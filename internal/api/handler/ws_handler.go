package handler

import (
	"Shoptalk/internal/api/config"
	"Shoptalk/internal/pkg/consts"
	"Shoptalk/internal/pkg/hub"
	"Shoptalk/internal/pkg/security"
	log "log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WsFrame 旧版通道的帧格式
type WsFrame struct {
	Type     string `json:"type"`
	SenderID uint64 `json:"sender_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Content  string `json:"content,omitempty"`
}

// WsHandler 兼容保留的旧版 WebSocket 通道
// 全局广播、无会话作用域、不落库；新客户端一律走 SSE 主通道
type WsHandler struct {
	hub *hub.Hub
}

func NewWsHandler(h *hub.Hub) *WsHandler {
	return &WsHandler{hub: h}
}

func (s *WsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 鉴权
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := security.ValidateToken(token)
	if err != nil {
		log.Warn("WS 鉴权失败", "err", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	userID := claims.UserID

	// 升级 Websocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("WS 协议升级失败", "err", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	client := hub.NewClient(userID, claims.UserName, claims.IsAdmin(), config.Cfg.Chat.ClientBuffer)
	s.hub.Register(consts.ChatWsGlobalKey, client)
	defer s.hub.Unregister(client)

	log.Info("用户 WS 连接已建立", "userID", userID, "connID", client.ID)

	// 读循环：解析 send_message 帧并全局转播
	go func() {
		defer client.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var frame WsFrame
			if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != consts.EventWsSend {
				continue
			}

			s.hub.Broadcast(consts.ChatWsGlobalKey, &WsFrame{
				Type:     consts.EventWsReceive,
				SenderID: userID,
				UserName: claims.UserName,
				Content:  frame.Content,
			})
		}
	}()

	// 写循环：泵出 Hub 广播
	for {
		select {
		case data := <-client.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error("WS 推送失败", "userID", userID, "err", err)
				return
			}
		case <-client.Done():
			log.Info("用户 WS 连接已断开", "userID", userID)
			return
		}
	}
}
