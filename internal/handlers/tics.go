package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ticvision/portal/internal/middleware"
	"github.com/ticvision/portal/internal/models"
	"github.com/ticvision/portal/internal/services"
	"github.com/ticvision/portal/pkg/response"
)

const (
	csvContentType  = "text/csv; charset=utf-8"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// TicHandler records tic events and serves a patient's tic history.
type TicHandler struct {
	svc *services.TicService
}

func NewTicHandler(svc *services.TicService) *TicHandler {
	return &TicHandler{svc: svc}
}

type recordTicRequest struct {
	Date      string `json:"date" validate:"required"`
	TimeOfDay string `json:"timeOfDay" validate:"required"`
	Location  string `json:"location" validate:"required,notblank,max=128"`
	Intensity int    `json:"intensity" validate:"required,min=1,max=10"`
}

// POST /api/tics
func (h *TicHandler) Record(c *gin.Context) {
	var req recordTicRequest
	if !bindAndValidate(c, &req) {
		return
	}

	event, err := h.svc.Record(requestContext(c), c.GetString(middleware.CtxUserIDKey), services.TicInput{
		Date:      req.Date,
		TimeOfDay: req.TimeOfDay,
		Location:  req.Location,
		Intensity: req.Intensity,
	})
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}
	response.Success(c, http.StatusCreated, event)
}

// GET /api/patients/:id/tics
func (h *TicHandler) List(c *gin.Context) {
	events, err := h.svc.Query(requestContext(c), currentViewer(c), c.Param("id"), ticFilterFromQuery(c))
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}
	if events == nil {
		events = []models.TicEvent{}
	}
	response.SuccessWithMeta(c, http.StatusOK, events, &response.Meta{Total: len(events)})
}

// GET /api/patients/:id/tics/locations
func (h *TicHandler) Locations(c *gin.Context) {
	locations, err := h.svc.Locations(requestContext(c), currentViewer(c), c.Param("id"))
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, locations)
}

// GET /api/patients/:id/tics/chart?mode=
func (h *TicHandler) Chart(c *gin.Context) {
	chart, err := h.svc.Chart(requestContext(c), currentViewer(c), c.Param("id"), ticFilterFromQuery(c), c.Query("mode"))
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, chart)
}

// GET /api/patients/:id/tics/export.csv
func (h *TicHandler) ExportCSV(c *gin.Context) {
	payload, err := h.svc.ExportCSV(requestContext(c), currentViewer(c), c.Param("id"), ticFilterFromQuery(c))
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}
	response.Attachment(c, "tic_data.csv", csvContentType, payload)
}

// GET /api/patients/:id/tics/export.xlsx
func (h *TicHandler) ExportXLSX(c *gin.Context) {
	payload, err := h.svc.ExportXLSX(requestContext(c), currentViewer(c), c.Param("id"), ticFilterFromQuery(c))
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}
	response.Attachment(c, "tic_data.xlsx", xlsxContentType, payload)
}

func ticFilterFromQuery(c *gin.Context) services.TicFilter {
	return services.TicFilter{
		Range:     c.Query("range"),
		Date:      c.Query("date"),
		Locations: queryList(c, "locations"),
		Sort:      c.Query("sort"),
	}
}
