package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ticvision/portal/internal/handlers"
	"github.com/ticvision/portal/internal/middleware"
	"github.com/ticvision/portal/internal/models"
)

func registerTicRoutes(api *gin.RouterGroup, requireAuth gin.HandlerFunc, handler *handlers.TicHandler) {
	api.POST("/tics", requireAuth, middleware.RequireRole(models.RolePatient), handler.Record)

	tics := api.Group("/patients/:id/tics", requireAuth)
	{
		tics.GET("", handler.List)
		tics.GET("/locations", handler.Locations)
		tics.GET("/chart", handler.Chart)
		tics.GET("/export.csv", handler.ExportCSV)
		tics.GET("/export.xlsx", handler.ExportXLSX)
	}
}
