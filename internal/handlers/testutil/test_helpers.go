package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ticvision/portal/internal/api"
	"github.com/ticvision/portal/internal/app"
	iauth "github.com/ticvision/portal/internal/auth"
	sharedtestutil "github.com/ticvision/portal/internal/database/testutil"
	"github.com/ticvision/portal/internal/middleware"
	"github.com/ticvision/portal/internal/models"
	"github.com/ticvision/portal/internal/monitoring"
	"github.com/ticvision/portal/internal/monitoring/checks"
	"github.com/ticvision/portal/internal/services"
	"github.com/ticvision/portal/internal/store"
	"github.com/ticvision/portal/pkg/response"
)

const (
	// ConfirmBaseURL is the invitation link base configured for handler tests.
	ConfirmBaseURL = "http://api.test/confirmPatientRequest"
	// LoginURL is the patient login page the redeem step redirects to.
	LoginURL = "http://app.test/userlogin"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T             *testing.T
	DB            *gorm.DB
	Router        *gin.Engine
	JWT           *iauth.JWTService
	Directory     *store.GormDirectory
	Confirmations *services.ConfirmationService
	Config        *app.Config
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(*app.Config)

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		Confirmation: app.ConfirmationConfig{
			BaseURL:  ConfirmBaseURL,
			LoginURL: LoginURL,
			LinkTTL:  7 * 24 * time.Hour,
			TokenTTL: 30 * time.Minute,
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	directory, err := store.NewGormDirectory(db)
	require.NoError(t, err)
	confirmationStore, err := store.NewGormConfirmationStore(db)
	require.NoError(t, err)
	ticStore, err := store.NewGormTicStore(db)
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	users, err := services.NewUserService(directory, audit)
	require.NoError(t, err)
	confirmations, err := services.NewConfirmationService(confirmationStore, directory,
		append(cfg.Confirmation.ServiceOptions(), services.WithConfirmationAudit(audit))...)
	require.NoError(t, err)
	dashboard, err := services.NewDashboardService(confirmationStore, directory)
	require.NoError(t, err)
	tics, err := services.NewTicService(ticStore, directory, confirmationStore, services.WithTicAudit(audit))
	require.NoError(t, err)

	var health *monitoring.HealthManager
	if cfg.Monitoring.Health.Enabled {
		health = monitoring.NewHealthManager()
		health.RegisterReadiness(checks.Database(db, time.Second))
	}

	router, err := api.NewRouter(api.Dependencies{
		Config:        cfg,
		JWT:           jwtSvc,
		Users:         users,
		Confirmations: confirmations,
		Dashboard:     dashboard,
		Tics:          tics,
		Health:        health,
		RateStore:     middleware.NewMemoryRateStore(),
	})
	require.NoError(t, err)

	return &Env{
		T:             t,
		DB:            db,
		Router:        router,
		JWT:           jwtSvc,
		Directory:     directory,
		Confirmations: confirmations,
		Config:        cfg,
	}
}

// CreateUser inserts a directory entry directly and returns it.
func (e *Env) CreateUser(role string) *models.User {
	e.T.Helper()

	email := role + "-" + uuid.NewString() + "@example.com"
	user := &models.User{
		Email:        email,
		DisplayName:  email,
		Role:         role,
		PasswordHash: "unused",
	}
	require.NoError(e.T, e.Directory.CreateUser(context.Background(), user))
	return user
}

// Token issues an access token for the user without going through login.
func (e *Env) Token(user *models.User) string {
	e.T.Helper()

	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
	})
	require.NoError(e.T, err)
	return token
}

// LoginResult mirrors the handler login response payload.
type LoginResult struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	User        models.User `json:"user"`
}

// Register creates an account through the API and returns the created user.
func (e *Env) Register(email, password, role string) models.User {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"role":     role,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var user models.User
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &user)
	return user
}

// Login authenticates using email and password and returns the issued token.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.Greater(e.T, result.ExpiresIn, 0)
	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
