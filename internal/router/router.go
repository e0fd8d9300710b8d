package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"sudooom.im.messaging/internal/config"
	"sudooom.im.messaging/internal/handler"
	"sudooom.im.messaging/internal/jwt"
	"sudooom.im.messaging/internal/middleware"
)

// Handlers 路由挂载的处理器
type Handlers struct {
	Conversation *handler.ConversationHandler
	Message      *handler.MessageHandler
	Unread       *handler.UnreadHandler
}

// SetupRouter 设置路由。tokens 为 nil 时只校验 JWT
func SetupRouter(
	cfg *config.Config,
	jwtService *jwt.Service,
	tokens middleware.TokenLookup,
	h Handlers,
) *gin.Engine {
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestCache())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.TokenAuth(jwtService, tokens))
	{
		conversations := v1.Group("/conversations")
		{
			conversations.GET("", h.Conversation.List)
			conversations.POST("", h.Conversation.Create)
			conversations.GET("/:id/participants", h.Conversation.Participants)
			conversations.DELETE("/:id/participants/me", h.Conversation.Leave)
			conversations.POST("/:id/read", h.Conversation.MarkRead)
			conversations.POST("/:id/delivered", h.Conversation.MarkDelivered)
			conversations.GET("/:id/messages", h.Message.History)
			conversations.POST("/:id/messages", h.Message.Send)
		}

		v1.DELETE("/messages/:id", h.Message.Delete)

		v1.GET("/unread", h.Unread.Count)
		v1.GET("/unread/ws", h.Unread.Stream)
	}

	return r
}
