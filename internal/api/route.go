package api

import (
	"Shoptalk/internal/api/middleware"
	"Shoptalk/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		chatGroup := apiGroup.Group("/chat")
		{
			// SSE 推送通道：token 走 query 参数，EventSource 不支持自定义 Header
			chatGroup.GET("/stream", group.StreamHandler.Connect)

			authGroup := chatGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("/send", group.ChatHandler.SendMessage)
				authGroup.POST("/read", group.ChatHandler.MarkRead)
				authGroup.POST("/typing", group.ChatHandler.Typing)
				authGroup.GET("/history", group.ChatHandler.GetChatHistory)
				authGroup.GET("/list", group.ChatHandler.GetConversationList)
				authGroup.GET("/online", group.ChatHandler.GetOnlineUsers)
			}

			// 需要登录 & 拥有 admin 角色
			adminGroup := authGroup.Group("")
			adminGroup.Use(middleware.CheckRoles("ADMIN"))
			{
				adminGroup.GET("/stats", group.ChatHandler.GetStats)
			}
		}
	}

	return r
}
