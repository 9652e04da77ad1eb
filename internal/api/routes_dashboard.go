package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ticvision/portal/internal/handlers"
	"github.com/ticvision/portal/internal/middleware"
	"github.com/ticvision/portal/internal/models"
)

func registerDashboardRoutes(api *gin.RouterGroup, requireAuth gin.HandlerFunc, handler *handlers.DashboardHandler) {
	doctors := api.Group("/doctors/me", requireAuth, middleware.RequireRole(models.RoleDoctor))
	doctors.GET("/patients", handler.ListPatients)
}
