package handler

import (
	"Shoptalk/internal/api/config"
	"Shoptalk/internal/pkg/hub"
	"Shoptalk/internal/pkg/security"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func dialWs(t *testing.T, srv *httptest.Server, userID uint64, userName string) *websocket.Conn {
	t.Helper()
	token, err := security.GenerateToken(userID, userName, nil)
	if err != nil {
		t.Fatalf("生成 token 失败: %v", err)
	}
	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WS 连接失败: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWsGlobalRebroadcast(t *testing.T) {
	config.Cfg = &config.Config{Chat: config.ChatConfig{ClientBuffer: 8}}
	h := hub.NewHub()
	srv := httptest.NewServer(NewWsHandler(h))
	t.Cleanup(srv.Close)

	alice := dialWs(t, srv, 10, "alice")
	bob := dialWs(t, srv, 11, "bob")

	waitFor(t, func() bool { return h.ClientCount() == 2 })

	err := alice.WriteJSON(&WsFrame{Type: "send_message", Content: "大家好"})
	if err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	// 全局广播：发送方自己也会收到回播
	for _, conn := range []*websocket.Conn{bob, alice} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("接收失败: %v", err)
		}
		var frame WsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("帧解析失败: %v", err)
		}
		if frame.Type != "receive_message" || frame.Content != "大家好" || frame.SenderID != 10 {
			t.Fatalf("回播帧异常: %+v", frame)
		}
	}
}

func TestWsIgnoresUnknownFrames(t *testing.T) {
	config.Cfg = &config.Config{Chat: config.ChatConfig{ClientBuffer: 8}}
	h := hub.NewHub()
	srv := httptest.NewServer(NewWsHandler(h))
	t.Cleanup(srv.Close)

	alice := dialWs(t, srv, 10, "alice")
	bob := dialWs(t, srv, 11, "bob")
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"noise"}`)); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	_ = bob.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, raw, err := bob.ReadMessage(); err == nil {
		t.Fatalf("未知帧类型不应被转播: %s", raw)
	}
}

func TestWsRejectsMissingToken(t *testing.T) {
	config.Cfg = &config.Config{Chat: config.ChatConfig{ClientBuffer: 8}}
	srv := httptest.NewServer(NewWsHandler(hub.NewHub()))
	t.Cleanup(srv.Close)

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("无 token 握手应失败")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("应返回 401: %+v", resp)
	}
}
