package handlers

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ticvision/portal/internal/services"
	appErrors "github.com/ticvision/portal/pkg/errors"
	"github.com/ticvision/portal/pkg/logger"
)

// translateServiceError maps service sentinels onto the API error catalogue.
// Unrecognised errors are logged and reported as internal failures.
func translateServiceError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *appErrors.AppError
	switch {
	case errors.Is(err, services.ErrConfirmationInvalidArgument):
		return appErrors.NewBadRequest("doctorId, patientId, patientEmail and token must not be blank")
	case errors.Is(err, services.ErrConfirmationPatientNotFound):
		return appErrors.ErrPatientNotFound
	case errors.Is(err, services.ErrConfirmationInProgress):
		return appErrors.NewConflict("Confirmation already in progress.")
	case errors.Is(err, services.ErrConfirmationAlreadyLinked):
		return appErrors.NewConflict("Patient is already linked to this doctor.")
	case errors.Is(err, services.ErrConfirmationInvalidOrExpired):
		return appErrors.ErrConfirmationInvalidOrExpired
	case errors.Is(err, services.ErrConfirmationInvalidToken):
		return appErrors.ErrConfirmationTokenInvalid
	case errors.Is(err, services.ErrConfirmationUnavailable):
		logger.WithModule("http").Warn("store unavailable", zap.Error(err))
		return appErrors.ErrUnavailable.WithInternal(err)
	case errors.Is(err, services.ErrTicInvalidArgument):
		return appErrors.NewBadRequest(strings.TrimPrefix(err.Error(), "tic: "))
	case errors.Is(err, services.ErrTicForbidden):
		return appErrors.ErrForbidden
	case errors.Is(err, services.ErrTicPatientNotFound):
		return appErrors.ErrPatientNotFound
	case errors.As(err, &appErr):
		return appErr
	}

	logger.WithModule("http").Error("unhandled service error", zap.Error(err))
	return appErrors.ErrInternalServer.WithInternal(err)
}
