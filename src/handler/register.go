package handler

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

var challengeTokenPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// RegisterValidators adds the custom binding tags used by request bodies.
func RegisterValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("challenge_token", func(fl validator.FieldLevel) bool {
			return challengeTokenPattern.MatchString(fl.Field().String())
		})
	}
}

// RegisterRoutes mounts the workflow routes at the root, where existing
// clients call them, and under /api/v1.
func RegisterRoutes(ctx context.Context, router *gin.Engine, challengeHandler *ChallengeHandler, metrics http.Handler) {
	RegisterValidators()

	SetMiddlewares(ctx, router)

	router.GET("/health", HandleHealthCheck)
	router.GET("/metrics", gin.WrapH(metrics))

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	registerChallengeRoutes(router.Group(""), challengeHandler)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", HandleHealthCheck)
		registerChallengeRoutes(v1, challengeHandler)
	}
}

func registerChallengeRoutes(group *gin.RouterGroup, h *ChallengeHandler) {
	group.POST("/register-new", h.RegisterNew)
	group.POST("/verify-token", h.VerifyToken)
	group.POST("/create-user", h.CreateUser)
	group.POST("/reset-password", h.ResetPassword)
	group.POST("/update-password", h.UpdatePassword)
}
