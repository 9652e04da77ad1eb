package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/ticvision/portal/internal/auditctx"
	"github.com/ticvision/portal/internal/middleware"
	"github.com/ticvision/portal/internal/services"
)

// requestContext returns the request context annotated with the caller's
// audit metadata, with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return auditctx.WithActor(c.Request.Context(), auditctx.Actor{
		UserID:    c.GetString(middleware.CtxUserIDKey),
		Role:      c.GetString(middleware.CtxRoleKey),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
}

// currentViewer reads the caller identity stored by middleware.Auth.
func currentViewer(c *gin.Context) services.Viewer {
	return services.Viewer{
		UserID: c.GetString(middleware.CtxUserIDKey),
		Role:   c.GetString(middleware.CtxRoleKey),
	}
}
