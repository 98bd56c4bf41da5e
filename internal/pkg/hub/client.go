package hub

import (
	"sync"

	"github.com/google/uuid"
)

// Client 一条在线连接的句柄
// 事件经由带缓冲的 channel 串行投递，单连接内保证 FIFO
// 同一用户允许多个并存句柄（多标签页），各自独立收取广播
type Client struct {
	ID       string
	UserID   uint64
	UserName string
	IsAdmin  bool

	events    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(userID uint64, userName string, isAdmin bool, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		UserName: userName,
		IsAdmin:  isAdmin,
		events:   make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// Events 待写出的事件帧，按投递顺序排列
func (c *Client) Events() <-chan []byte { return c.events }

// Done 连接关闭信号
func (c *Client) Done() <-chan struct{} { return c.done }

// Close 幂等关闭，任何退出路径都可以安全调用
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// push 尝试投递一帧；连接已关闭或缓冲打满时返回 false
// 打满视为消费端已死，交由 Hub 懒清理
func (c *Client) push(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.events <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}
