package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ticvision/portal/internal/handlers"
	"github.com/ticvision/portal/internal/middleware"
	"github.com/ticvision/portal/internal/models"
)

// registerConfirmationRoutes mounts the handshake. The generate and redeem
// endpoints live at the root because invitation emails link to them directly.
func registerConfirmationRoutes(engine *gin.Engine, api *gin.RouterGroup, requireAuth gin.HandlerFunc, handler *handlers.ConfirmationHandler) {
	engine.POST("/generateConfirmation", requireAuth, middleware.RequireRole(models.RoleDoctor), handler.Generate)
	engine.GET("/confirmPatientRequest", handler.Redeem)

	confirmations := api.Group("/confirmations", requireAuth)
	{
		confirmations.POST("/confirm", handler.Confirm)
		confirmations.GET("", middleware.RequireRole(models.RoleDoctor), handler.List)
	}
}
