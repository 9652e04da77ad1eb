package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ticvision/portal/internal/middleware"
	"github.com/ticvision/portal/internal/services"
	"github.com/ticvision/portal/pkg/response"
)

// DashboardHandler serves the doctor's patient list.
type DashboardHandler struct {
	svc *services.DashboardService
}

func NewDashboardHandler(svc *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{svc: svc}
}

// GET /api/doctors/me/patients
func (h *DashboardHandler) ListPatients(c *gin.Context) {
	patients, err := h.svc.ListPatients(requestContext(c), c.GetString(middleware.CtxUserIDKey))
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, patients, &response.Meta{Total: len(patients)})
}
