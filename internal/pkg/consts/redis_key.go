package consts

const (
	ChatStatsCacheKey = "chat:stats:cache"
)
