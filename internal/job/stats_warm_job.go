package job

import (
	"Shoptalk/internal/pkg/logger"
	"Shoptalk/internal/service"
	"context"
	log "log/slog"
	"time"

	"github.com/google/uuid"
)

// StatsWarmJob 周期性预热工作台统计缓存，避免整点冷查询
type StatsWarmJob struct {
	chatService service.ChatService
}

func NewStatsWarmJob(chatService service.ChatService) *StatsWarmJob {
	return &StatsWarmJob{chatService: chatService}
}

func (s *StatsWarmJob) Run() {
	traceID := "job-stats-" + uuid.NewString()
	ctx := context.WithValue(context.Background(), logger.TraceIDKey, traceID)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.chatService.GetStats(ctx); err != nil {
		log.ErrorContext(ctx, "StatsWarmJob failed", "err", err)
	}
}
