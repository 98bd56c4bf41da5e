package hub

import (
	log "log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Hub 进程级的在线注册表与广播原语
// 只负责进程内扇出：不落盘、不重试、不跨进程（水平扩展需外置消息总线，见部署文档）
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Client]struct{}
	keysOf      map[*Client][]string
	presence    map[uint64]*presenceEntry
	closed      bool
}

type presenceEntry struct {
	conns    int
	lastSeen time.Time
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Client]struct{}),
		keysOf:      make(map[*Client][]string),
		presence:    make(map[uint64]*presenceEntry),
	}
}

// Register 把连接句柄挂到指定键下，同一句柄可挂多个键
// 首个键视为连接上线，刷新在线表
func (h *Hub) Register(key string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		c.Close()
		return
	}

	set, ok := h.subscribers[key]
	if !ok {
		set = make(map[*Client]struct{})
		h.subscribers[key] = set
	}
	if _, dup := set[c]; dup {
		return
	}
	set[c] = struct{}{}

	if len(h.keysOf[c]) == 0 {
		entry, ok := h.presence[c.UserID]
		if !ok {
			entry = &presenceEntry{}
			h.presence[c.UserID] = entry
		}
		entry.conns++
		entry.lastSeen = time.Now()
	}
	h.keysOf[c] = append(h.keysOf[c], key)
}

// Unregister 把句柄从所有键下摘除并关闭；重复调用无副作用
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	keys, ok := h.keysOf[c]
	if ok {
		for _, key := range keys {
			if set, exists := h.subscribers[key]; exists {
				delete(set, c)
				if len(set) == 0 {
					delete(h.subscribers, key)
				}
			}
		}
		delete(h.keysOf, c)

		if entry, exists := h.presence[c.UserID]; exists {
			entry.conns--
			if entry.conns <= 0 {
				delete(h.presence, c.UserID)
			}
		}
	}
	h.mu.Unlock()

	c.Close()
}

// Broadcast 向键下所有在线句柄投递事件，尽力而为
// 单个死连接的投递失败只触发其摘除，绝不影响其余订阅者
func (h *Hub) Broadcast(key string, event interface{}) {
	h.broadcast(key, 0, event)
}

// BroadcastExcept 同 Broadcast，但跳过指定用户的全部连接（输入状态不回显给本人）
func (h *Hub) BroadcastExcept(key string, exceptUserID uint64, event interface{}) {
	h.broadcast(key, exceptUserID, event)
}

func (h *Hub) broadcast(key string, exceptUserID uint64, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error("marshal broadcast event failed", "key", key, "err", err)
		return
	}

	h.mu.RLock()
	set := h.subscribers[key]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		if exceptUserID != 0 && c.UserID == exceptUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var dead []*Client
	for _, c := range targets {
		if !c.push(data) {
			dead = append(dead, c)
		}
	}

	// 懒清理：写失败即认定连接已死
	for _, c := range dead {
		log.Warn("dropping dead subscriber", "key", key, "user_id", c.UserID, "conn_id", c.ID)
		h.Unregister(c)
	}
}

// OnlineUsers 在线用户快照，调用时刻的副本而非实时视图
func (h *Hub) OnlineUsers() []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]uint64, 0, len(h.presence))
	for uid := range h.presence {
		users = append(users, uid)
	}
	return users
}

// Touch 心跳刷新，推迟该用户被闲置清理的时间
func (h *Hub) Touch(userID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if entry, ok := h.presence[userID]; ok {
		entry.lastSeen = time.Now()
	}
}

// SweepStale 关闭心跳超时用户的全部连接，返回清理的连接数
// 兜底未被断连信号覆盖到的僵尸连接
func (h *Hub) SweepStale(ttl time.Duration) int {
	deadline := time.Now().Add(-ttl)

	h.mu.RLock()
	var victims []*Client
	for c := range h.keysOf {
		if entry, ok := h.presence[c.UserID]; ok && entry.lastSeen.Before(deadline) {
			victims = append(victims, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range victims {
		log.Info("sweeping stale connection", "user_id", c.UserID, "conn_id", c.ID)
		h.Unregister(c)
	}
	return len(victims)
}

// ClientCount 当前注册的连接句柄数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.keysOf)
}

// Close 进程退出时关闭所有连接并拒绝后续注册
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.keysOf))
	for c := range h.keysOf {
		clients = append(clients, c)
	}
	h.subscribers = make(map[string]map[*Client]struct{})
	h.keysOf = make(map[*Client][]string)
	h.presence = make(map[uint64]*presenceEntry)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
