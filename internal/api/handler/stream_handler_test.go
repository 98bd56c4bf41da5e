package handler

import (
	"Shoptalk/internal/api/config"
	"Shoptalk/internal/api/dto"
	"Shoptalk/internal/pkg/hub"
	"Shoptalk/internal/pkg/security"
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

func newStreamServer(t *testing.T, h *hub.Hub, keys []string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.Cfg = &config.Config{Chat: config.ChatConfig{ClientBuffer: 8}}

	svc := &stubChatService{streamKeys: keys}
	handler := NewStreamHandler(svc, h)

	r := gin.New()
	r.GET("/api/chat/stream", handler.Connect)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamRejectsMissingToken(t *testing.T) {
	srv := newStreamServer(t, hub.NewHub(), nil)

	resp, err := http.Get(srv.URL + "/api/chat/stream")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	var envelope dto.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if envelope.Code != 401 {
		t.Fatalf("无 token 应被拒绝: %+v", envelope)
	}
}

func TestStreamDeliversEventsInOrder(t *testing.T) {
	h := hub.NewHub()
	srv := newStreamServer(t, h, []string{"chat:conversation:1"})

	token, err := security.GenerateToken(10, "alice", nil)
	if err != nil {
		t.Fatalf("生成 token 失败: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/chat/stream?token=" + token)
	if err != nil {
		t.Fatalf("建立 SSE 连接失败: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type 异常: %s", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("Cache-Control 异常: %s", cc)
	}

	// 等注册完成后再广播
	waitFor(t, func() bool { return h.ClientCount() > 0 })

	h.Broadcast("chat:conversation:1", &dto.ChatEventDTO{Type: "new_message", ConversationID: 1})
	h.Broadcast("chat:conversation:1", &dto.ChatEventDTO{Type: "read_receipt", ConversationID: 1})

	var events []dto.ChatEventDTO
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(events) < 2 {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev dto.ChatEventDTO
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("事件帧解析失败: %v, line=%q", err, line)
		}
		events = append(events, ev)
	}

	if len(events) != 2 || events[0].Type != "new_message" || events[1].Type != "read_receipt" {
		t.Fatalf("事件顺序异常: %+v", events)
	}
}

func TestStreamCleansUpOnDisconnect(t *testing.T) {
	h := hub.NewHub()
	srv := newStreamServer(t, h, []string{"chat:conversation:1"})

	token, err := security.GenerateToken(10, "alice", nil)
	if err != nil {
		t.Fatalf("生成 token 失败: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/chat/stream?token=" + token)
	if err != nil {
		t.Fatalf("建立 SSE 连接失败: %v", err)
	}

	waitFor(t, func() bool { return h.ClientCount() == 1 })

	// 客户端断开后句柄必须从注册表摘除
	resp.Body.Close()
	waitFor(t, func() bool { return h.ClientCount() == 0 })
	waitFor(t, func() bool { return len(h.OnlineUsers()) == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("等待条件成立超时")
}
