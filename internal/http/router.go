package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	jwtSvc *service.JWTService,
	userH *UserHandler,
	apptH *AppointmentHandler,
	chatH *ChatHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := r.Group("/auth")
	auth.POST("/register", userH.Register)
	auth.POST("/login", userH.Login)
	auth.POST("/refresh", userH.RefreshToken)
	auth.POST("/logout", userH.Logout)
	auth.GET("/me", JWTAuthMiddleware(jwtSvc), userH.Me)

	student := r.Group("/", JWTAuthMiddleware(jwtSvc))

	appts := student.Group("/appointments")
	appts.POST("", apptH.Create)
	appts.GET("", apptH.ListMine)
	appts.GET("/ws", apptH.StreamMine)
	appts.PUT("/:id", apptH.Update)
	appts.DELETE("/:id", apptH.Delete)
	appts.POST("/:id/cancel", apptH.Cancel)

	admin := student.Group("/admin", RequireRole(domain.RoleAdmin))
	admin.GET("/appointments", apptH.ListAll)
	admin.GET("/appointments/ws", apptH.StreamAll)
	admin.PATCH("/appointments/:id/status", apptH.SetStatus)

	chat := student.Group("/chat")
	chat.GET("/preferences", chatH.GetPreferences)
	chat.PUT("/preferences", chatH.PutPreferences)
	chat.POST("/sessions", chatH.StartSession)
	chat.DELETE("/sessions/:id", chatH.EndSession)
	chat.GET("/sessions/:id/messages", chatH.ListMessages)
	chat.POST("/sessions/:id/messages", chatH.PostMessage)
	chat.POST("/sessions/:id/options", chatH.SelectOption)
	chat.GET("/sessions/:id/state", chatH.GetState)
	chat.PATCH("/sessions/:id/state", chatH.PatchState)
	chat.GET("/sessions/:id/ws", chatH.Stream)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
