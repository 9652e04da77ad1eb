package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ticvision/portal/internal/models"
	"github.com/ticvision/portal/internal/store"
	"github.com/ticvision/portal/pkg/crypto"
	apperrors "github.com/ticvision/portal/pkg/errors"
	"github.com/ticvision/portal/pkg/metrics"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrEmailTaken indicates another account already uses the address.
	ErrEmailTaken = apperrors.New("EMAIL_TAKEN", "An account with this email already exists", http.StatusConflict)
)

// RegisterUserInput describes the fields accepted when creating an account.
type RegisterUserInput struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
}

// UserService manages directory accounts and password sign-in.
type UserService struct {
	directory    store.Directory
	auditService *AuditService
	now          func() time.Time
}

// NewUserService constructs a UserService instance.
func NewUserService(directory store.Directory, auditService *AuditService) (*UserService, error) {
	if directory == nil {
		return nil, errors.New("user service: directory is required")
	}
	return &UserService{
		directory:    directory,
		auditService: auditService,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register provisions a new doctor or patient with a hashed password.
func (s *UserService) Register(ctx context.Context, input RegisterUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := store.NormalizeEmail(input.Email)
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}
	if role != models.RoleDoctor && role != models.RolePatient {
		return nil, apperrors.NewBadRequest("role must be doctor or patient")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = email
	}

	user := &models.User{
		Email:        email,
		DisplayName:  displayName,
		Role:         role,
		PasswordHash: hashed,
	}
	if err := s.directory.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   &user.ID,
		Action:   AuditActionUserRegister,
		Resource: "user:" + user.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"role": role},
	})

	return user, nil
}

// Authenticate verifies the credentials and records the sign-in time.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = store.NormalizeEmail(email)
	if email == "" || password == "" {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	user, err := s.directory.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user: %w", err)
	}

	if !crypto.VerifyPassword(user.PasswordHash, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		recordAudit(s.auditService, ctx, AuditEntry{
			UserID: &user.ID,
			Action: AuditActionUserLogin,
			Result: AuditResultFailure,
		})
		return nil, apperrors.ErrInvalidCredentials
	}

	now := s.now()
	if err := s.directory.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("user service: touch last login: %w", err)
	}
	user.LastLoginAt = &now

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID: &user.ID,
		Action: AuditActionUserLogin,
		Result: AuditResultSuccess,
	})

	return user, nil
}

// GetByID loads a user by identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserNotFound
	}

	user, err := s.directory.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return user, nil
}
