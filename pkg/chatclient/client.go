package chatclient

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
)

// Transport 当前生效的通道类型
type Transport string

const (
	TransportNone      Transport = "none"
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultTypingTimeout  = 3 * time.Second
)

// Options 客户端配置
type Options struct {
	BaseURL string // 如 http://localhost:8080
	WsURL   string // 如 ws://localhost:8081/ws/chat，为空则不启用备用通道
	Token   string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	TypingTimeout  time.Duration

	// OnEvent 每收到一帧事件调用一次，按到达顺序串行回调
	OnEvent func(ev *Event)
}

// Client 维护一条到服务端的长连接
// 断线后指数退避重连，SSE 不可用时退回 WebSocket 通道
type Client struct {
	opts Options
	http *http.Client

	mu        sync.RWMutex
	connected bool
	transport Transport
	pending   map[string]*PendingMessage
	typingAt  map[uint64]time.Time

	wakeCh chan struct{}
}

func New(opts Options) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = defaultTypingTimeout
	}
	return &Client{
		opts:      opts,
		http:      &http.Client{},
		transport: TransportNone,
		pending:   make(map[string]*PendingMessage),
		typingAt:  make(map[uint64]time.Time),
		wakeCh:    make(chan struct{}, 1),
	}
}

// IsConnected 连接健康状态，供上层展示
// 注意 SetNetworkAvailable 会乐观地先行翻转它，下一次重连才能确认真实连通性
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ActiveTransport 当前走的通道
func (c *Client) ActiveTransport() Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

// SetNetworkAvailable 浏览器 online/offline 一类的网络信号入口
// online 信号会立刻唤醒重连循环，跳过剩余退避
func (c *Client) SetNetworkAvailable(available bool) {
	c.mu.Lock()
	c.connected = available
	c.mu.Unlock()

	if available {
		select {
		case c.wakeCh <- struct{}{}:
		default:
		}
	}
}

// Run 阻塞运行连接循环，ctx 取消后返回
func (c *Client) Run(ctx context.Context) {
	backoff := c.opts.InitialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.runSSE(ctx)
		if err == nil || ctx.Err() != nil {
			c.setState(false, TransportNone)
			return
		}
		log.Warn("SSE 通道断开", "err", err)

		// SSE 失败先尝试备用 WebSocket 通道
		if c.opts.WsURL != "" {
			if wsErr := c.runWebSocket(ctx); wsErr != nil {
				log.Warn("WebSocket 备用通道断开", "err", wsErr)
			}
			if ctx.Err() != nil {
				c.setState(false, TransportNone)
				return
			}
		}

		c.setState(false, TransportNone)

		select {
		case <-ctx.Done():
			return
		case <-c.wakeCh:
			backoff = c.opts.InitialBackoff
		case <-time.After(backoff):
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
		}
	}
}

// runSSE 读取 text/event-stream 直到连接断开
func (c *Client) runSSE(ctx context.Context) error {
	streamURL := fmt.Sprintf("%s/api/chat/stream?token=%s", c.opts.BaseURL, url.QueryEscape(c.opts.Token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "构造 SSE 请求失败")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(err, "SSE 连接失败")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return pkgerrors.Errorf("SSE 连接被拒绝: %d", resp.StatusCode)
	}
	// 鉴权失败等错误也走 200 业务码信封，必须按响应类型区分事件流
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return pkgerrors.Errorf("SSE 握手被拒绝，响应类型 %s", ct)
	}

	c.setState(true, TransportSSE)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue // 心跳注释行或空行
		}
		c.dispatch(bytes.TrimPrefix(line, []byte("data: ")))
	}
	if err = scanner.Err(); err != nil && ctx.Err() == nil {
		return pkgerrors.Wrap(err, "SSE 流读取失败")
	}
	return pkgerrors.New("SSE 流已结束")
}

// runWebSocket 备用通道，仅全局广播、无会话作用域
func (c *Client) runWebSocket(ctx context.Context) error {
	wsURL := fmt.Sprintf("%s?token=%s", c.opts.WsURL, url.QueryEscape(c.opts.Token))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "WebSocket 连接失败")
	}
	defer func() {
		_ = conn.Close()
	}()

	c.setState(true, TransportWebSocket)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return pkgerrors.Wrap(err, "WebSocket 读取失败")
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Warn("事件帧解析失败", "err", err)
		return
	}

	if ev.Type == "new_message" && ev.Message != nil {
		c.reconcile(ev.Message)
	}

	if c.opts.OnEvent != nil {
		c.opts.OnEvent(&ev)
	}
}

// reconcile 确认帧到达即撤下对应的乐观占位
// 确认后的消息本身经 OnEvent 交付，这里只维护占位表
func (c *Client) reconcile(msg *Message) {
	if msg.ClientMsgID == "" {
		return
	}
	c.mu.Lock()
	delete(c.pending, msg.ClientMsgID)
	c.mu.Unlock()
}

func (c *Client) setState(connected bool, transport Transport) {
	c.mu.Lock()
	c.connected = connected
	c.transport = transport
	c.mu.Unlock()
}

// SendMessage 发送消息，返回发起时刻的乐观占位快照
// 占位状态只存在客户端内部，确认帧到达后经 Pending 查询返回 false；请求失败时占位被丢弃
func (c *Client) SendMessage(ctx context.Context, conversationID uint64, content string) (PendingMessage, error) {
	if strings.TrimSpace(content) == "" {
		return PendingMessage{}, pkgerrors.New("消息内容不能为空")
	}

	pending := PendingMessage{
		ClientMsgID:    uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		Optimistic:     true,
	}
	entry := pending
	c.mu.Lock()
	c.pending[pending.ClientMsgID] = &entry
	c.mu.Unlock()

	body := map[string]interface{}{
		"conversation_id": conversationID,
		"content":         content,
		"client_msg_id":   pending.ClientMsgID,
	}
	if err := c.post(ctx, "/api/chat/send", body); err != nil {
		c.mu.Lock()
		delete(c.pending, pending.ClientMsgID)
		c.mu.Unlock()
		return PendingMessage{}, err
	}
	return pending, nil
}

// Pending 查询一条乐观占位的当前快照；确认帧已到达时返回 false
func (c *Client) Pending(clientMsgID string) (PendingMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pending[clientMsgID]
	if !ok {
		return PendingMessage{}, false
	}
	return *p, true
}

// MarkRead 将会话内对方发来的消息标记为已读
func (c *Client) MarkRead(ctx context.Context, conversationID uint64) error {
	return c.post(ctx, "/api/chat/read", map[string]interface{}{
		"conversation_id": conversationID,
	})
}

// Typing 上报输入状态
// 正在输入的上报按 TypingTimeout 去抖，停止输入的上报总是发出
func (c *Client) Typing(ctx context.Context, conversationID uint64, userID uint64, userName string, isTyping bool) error {
	if isTyping {
		c.mu.Lock()
		last, ok := c.typingAt[conversationID]
		if ok && time.Since(last) < c.opts.TypingTimeout {
			c.mu.Unlock()
			return nil
		}
		c.typingAt[conversationID] = time.Now()
		c.mu.Unlock()
	} else {
		c.mu.Lock()
		delete(c.typingAt, conversationID)
		c.mu.Unlock()
	}

	return c.post(ctx, "/api/chat/typing", map[string]interface{}{
		"conversation_id": conversationID,
		"user_id":         userID,
		"user_name":       userName,
		"is_typing":       isTyping,
	})
}

// PendingCount 尚未收到服务端确认的消息数
func (c *Client) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(err, "请求体序列化失败")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return pkgerrors.Wrap(err, "构造请求失败")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(err, "请求发送失败")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(err, "响应读取失败")
	}
	if err = json.Unmarshal(payload, &envelope); err != nil {
		return pkgerrors.Wrap(err, "响应解析失败")
	}
	if envelope.Code != 200 {
		return pkgerrors.Errorf("服务端返回错误: %d %s", envelope.Code, envelope.Message)
	}
	return nil
}
