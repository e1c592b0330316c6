package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bugbot.app/relay/internal/http/handler"
	"bugbot.app/relay/internal/http/handler/webhook"
	"bugbot.app/relay/internal/http/middleware"
	"bugbot.app/relay/internal/queue"
)

const (
	InteractionsPath = "/interactions"
	QueuePushPath    = "/__queue"
)

// SetupServerRoutes wires the chat-platform intake.
func SetupServerRoutes(router *gin.Engine, interactions *webhook.InteractionHandler) {
	router.GET("/health", health)
	router.POST(InteractionsPath, interactions.Handle)
}

type PushConfig struct {
	Secret string
}

// SetupPushRoutes wires the queue push endpoint behind the shared secret.
func SetupPushRoutes(router *gin.Engine, push *handler.QueuePushHandler, cfg PushConfig) {
	router.GET("/health", health)
	router.POST(QueuePushPath, middleware.RequireSharedSecret(queue.AuthHeader, cfg.Secret), push.Handle)
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
