package consts

// 事件类型：SSE / WebSocket 推送帧的 type 字段
const (
	EventNewMessage  = "new_message"
	EventReadReceipt = "read_receipt"
	EventTyping      = "typing"
	EventPresence    = "presence"

	// 旧版 WebSocket 通道的帧类型
	EventWsSend    = "send_message"
	EventWsReceive = "receive_message"
)

// 角色
const (
	RoleAdmin    = "ADMIN"
	RoleCustomer = "CUSTOMER"
)
