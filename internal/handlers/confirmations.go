package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ticvision/portal/internal/middleware"
	"github.com/ticvision/portal/internal/models"
	"github.com/ticvision/portal/internal/services"
	"github.com/ticvision/portal/pkg/errors"
	"github.com/ticvision/portal/pkg/response"
)

// ConfirmationHandler exposes the doctor-patient confirmation handshake.
type ConfirmationHandler struct {
	svc *services.ConfirmationService
}

func NewConfirmationHandler(svc *services.ConfirmationService) *ConfirmationHandler {
	return &ConfirmationHandler{svc: svc}
}

type generateConfirmationRequest struct {
	DoctorID     string `json:"doctorId" validate:"required,notblank"`
	PatientEmail string `json:"patientEmail" validate:"required,notblank"`
}

type generateConfirmationResponse struct {
	ConfirmationLink string                 `json:"confirmationLink"`
	EmailTemplate    services.EmailTemplate `json:"emailTemplate"`
	RequestID        string                 `json:"requestId"`
	Reused           bool                   `json:"reused"`
}

type confirmTokenRequest struct {
	Token string `json:"token" validate:"required,notblank"`
}

type confirmTokenResponse struct {
	Link    *models.DoctorPatientLink   `json:"link"`
	Request *models.ConfirmationRequest `json:"request"`
}

// POST /generateConfirmation
func (h *ConfirmationHandler) Generate(c *gin.Context) {
	var req generateConfirmationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	// Doctors may only invite on their own behalf.
	if strings.TrimSpace(req.DoctorID) != c.GetString(middleware.CtxUserIDKey) {
		response.Error(c, errors.ErrForbidden)
		return
	}

	invite, err := h.svc.GenerateConfirmation(requestContext(c), req.DoctorID, req.PatientEmail)
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, generateConfirmationResponse{
		ConfirmationLink: invite.Link,
		EmailTemplate:    invite.Template,
		RequestID:        invite.Request.ID,
		Reused:           invite.Reused,
	})
}

// GET /confirmPatientRequest?doctorId=&patientId=
func (h *ConfirmationHandler) Redeem(c *gin.Context) {
	redemption, err := h.svc.RedeemConfirmationLink(requestContext(c), c.Query("doctorId"), c.Query("patientId"))
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}
	c.Redirect(http.StatusFound, redemption.RedirectURL)
}

// POST /api/confirmations/confirm
func (h *ConfirmationHandler) Confirm(c *gin.Context) {
	var req confirmTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.ConfirmWithToken(requestContext(c), req.Token, c.GetString(middleware.CtxUserIDKey))
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, confirmTokenResponse{Link: result.Link, Request: result.Request})
}

// GET /api/confirmations?state=
func (h *ConfirmationHandler) List(c *gin.Context) {
	state := strings.TrimSpace(c.Query("state"))
	if state != "" && !models.ConfirmationState(state).Valid() {
		response.Error(c, errors.NewBadRequest("unknown confirmation state"))
		return
	}

	requests, err := h.svc.ListRequests(requestContext(c), c.GetString(middleware.CtxUserIDKey), state)
	if err != nil {
		response.Error(c, translateServiceError(err))
		return
	}
	if requests == nil {
		requests = []models.ConfirmationRequest{}
	}

	response.SuccessWithMeta(c, http.StatusOK, requests, &response.Meta{Total: len(requests)})
}
