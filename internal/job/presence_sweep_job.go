package job

import (
	"Shoptalk/internal/pkg/hub"
	log "log/slog"
	"time"
)

// PresenceSweepJob 定期清理心跳超时的僵尸连接
// 正常断连由连接自身的退出路径处理，这里只兜底
type PresenceSweepJob struct {
	hub *hub.Hub
	ttl time.Duration
}

func NewPresenceSweepJob(h *hub.Hub, ttlSeconds int) *PresenceSweepJob {
	if ttlSeconds <= 0 {
		ttlSeconds = 90
	}
	return &PresenceSweepJob{
		hub: h,
		ttl: time.Duration(ttlSeconds) * time.Second,
	}
}

func (s *PresenceSweepJob) Run() {
	if n := s.hub.SweepStale(s.ttl); n > 0 {
		log.Info("PresenceSweepJob cleaned stale connections", "count", n)
	}
}
