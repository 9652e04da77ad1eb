package app

import (
	"github.com/ticvision/portal/internal/services"
)

// ServiceOptions converts ConfirmationConfig into ConfirmationService options.
// Zero values keep the service defaults.
func (c ConfirmationConfig) ServiceOptions() []services.ConfirmationOption {
	return []services.ConfirmationOption{
		services.WithConfirmBaseURL(c.BaseURL),
		services.WithLoginURL(c.LoginURL),
		services.WithLinkTTL(c.LinkTTL),
		services.WithTokenTTL(c.TokenTTL),
		services.WithConfirmationTokenSize(c.TokenBytes),
	}
}
