package consts

import "strconv"

// 广播键前缀：进程内 Hub 使用，不落 Redis
const (
	ChatConversationKey = "chat:conversation:"
	ChatUserKey         = "chat:user:"
	ChatAdminAudience   = "chat:admins"
	ChatWsGlobalKey     = "chat:ws:global"
)

// ConversationKey 会话广播键
func ConversationKey(convID uint64) string {
	return ChatConversationKey + strconv.FormatUint(convID, 10)
}

// UserKey 用户个人广播键
func UserKey(userID uint64) string {
	return ChatUserKey + strconv.FormatUint(userID, 10)
}
