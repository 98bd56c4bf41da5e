package wire

import (
	"Shoptalk/internal/api"
	"Shoptalk/internal/api/config"
	"Shoptalk/internal/api/handler"
	"Shoptalk/internal/job"
	"Shoptalk/internal/pkg/cron"
	"Shoptalk/internal/pkg/hub"
	"Shoptalk/internal/pkg/kafka"
	pkgmongo "Shoptalk/internal/pkg/mongo"
	"Shoptalk/internal/repository"
	"Shoptalk/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router    *gin.Engine
	DB        *gorm.DB
	Hub       *hub.Hub
	WsHandler *handler.WsHandler
	Producer  *kafka.EventProducer
	CronMgr   *cron.Manager
}

func BuildApplication(db *gorm.DB, mongoDB *mongo.Database, cfg *config.Config) (*ApplicationContainer, error) {
	convRepo := repository.NewConversationRepo(db)
	msgRepo := pkgmongo.NewMessageRepo(mongoDB)

	h := hub.NewHub()

	producer, err := kafka.NewEventProducer(cfg)
	if err != nil {
		return nil, err
	}

	chatService := service.NewChatService(convRepo, msgRepo, h, producer, cfg.Chat)

	handlers := &api.HandlersGroup{
		ChatHandler:   handler.NewChatHandler(chatService),
		StreamHandler: handler.NewStreamHandler(chatService, h),
	}

	router := api.SetupRouter(handlers)

	cronMgr := cron.NewCronManager(
		job.NewPresenceSweepJob(h, cfg.Chat.PresenceTTL),
		job.NewStatsWarmJob(chatService),
	)

	return &ApplicationContainer{
		Router:    router,
		DB:        db,
		Hub:       h,
		WsHandler: handler.NewWsHandler(h),
		Producer:  producer,
		CronMgr:   cronMgr,
	}, nil
}
