package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ticvision/portal/internal/models"
	"github.com/ticvision/portal/internal/store"
	"github.com/ticvision/portal/pkg/crypto"
	"github.com/ticvision/portal/pkg/logger"
	"github.com/ticvision/portal/pkg/metrics"
)

const (
	defaultConfirmBaseURL    = "http://localhost:8000/confirmPatientRequest"
	defaultLoginURL          = "http://localhost:3000/userlogin"
	defaultLinkTTL           = 7 * 24 * time.Hour
	defaultTokenTTL          = 30 * time.Minute
	defaultConfirmTokenBytes = 32

	confirmationEmailSubject = "Confirm Doctor Access to Your TicVision Data"
)

var (
	// ErrConfirmationInvalidArgument indicates a required input was missing or blank.
	ErrConfirmationInvalidArgument = errors.New("confirmation: missing required field")
	// ErrConfirmationPatientNotFound indicates the email does not resolve to a patient account.
	ErrConfirmationPatientNotFound = errors.New("confirmation: patient not found")
	// ErrConfirmationInProgress indicates a token was already issued for the pair and is still valid.
	ErrConfirmationInProgress = errors.New("confirmation: confirmation already in progress")
	// ErrConfirmationAlreadyLinked indicates the doctor and patient are already linked.
	ErrConfirmationAlreadyLinked = errors.New("confirmation: patient already linked")
	// ErrConfirmationInvalidOrExpired covers unknown, consumed and expired links.
	ErrConfirmationInvalidOrExpired = errors.New("confirmation: invalid or expired link")
	// ErrConfirmationInvalidToken covers unknown, consumed, expired and foreign tokens.
	ErrConfirmationInvalidToken = errors.New("confirmation: invalid token")
	// ErrConfirmationUnavailable wraps transient store failures.
	ErrConfirmationUnavailable = errors.New("confirmation: store unavailable")
)

// EmailTemplate is the message the inviting doctor forwards to the patient.
type EmailTemplate struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ConfirmationInvite is the outcome of GenerateConfirmation.
type ConfirmationInvite struct {
	Request  *models.ConfirmationRequest
	Link     string
	Template EmailTemplate
	// Reused is true when an existing pending request was returned instead of a new one.
	Reused bool
}

// ConfirmationRedemption is the outcome of RedeemConfirmationLink.
type ConfirmationRedemption struct {
	RequestID   string
	Token       string
	RedirectURL string
}

// ConfirmationResult is the outcome of ConfirmWithToken.
type ConfirmationResult struct {
	Request *models.ConfirmationRequest
	Link    *models.DoctorPatientLink
}

// ConfirmationOption customises ConfirmationService behaviour.
type ConfirmationOption func(*ConfirmationService)

// WithConfirmBaseURL sets the URL patients open from the invitation email.
func WithConfirmBaseURL(raw string) ConfirmationOption {
	return func(s *ConfirmationService) {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			s.confirmBaseURL = trimmed
		}
	}
}

// WithLoginURL sets the patient login surface the redeem step redirects to.
func WithLoginURL(raw string) ConfirmationOption {
	return func(s *ConfirmationService) {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			s.loginURL = trimmed
		}
	}
}

// WithLinkTTL bounds how long a pending link stays redeemable.
func WithLinkTTL(d time.Duration) ConfirmationOption {
	return func(s *ConfirmationService) {
		if d > 0 {
			s.linkTTL = d
		}
	}
}

// WithTokenTTL bounds how long an issued token stays confirmable.
func WithTokenTTL(d time.Duration) ConfirmationOption {
	return func(s *ConfirmationService) {
		if d > 0 {
			s.tokenTTL = d
		}
	}
}

// WithConfirmationTokenSize adjusts the random token length in bytes.
func WithConfirmationTokenSize(size int) ConfirmationOption {
	return func(s *ConfirmationService) {
		if size > 0 {
			s.tokenBytes = size
		}
	}
}

// WithConfirmationClock injects a custom clock primarily for testing.
func WithConfirmationClock(clock func() time.Time) ConfirmationOption {
	return func(s *ConfirmationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithConfirmationAudit records workflow transitions in the audit log.
func WithConfirmationAudit(audit *AuditService) ConfirmationOption {
	return func(s *ConfirmationService) {
		s.audit = audit
	}
}

// ConfirmationService runs the doctor-patient confirmation handshake:
// generate a link, redeem it for a token, confirm the token as the patient.
type ConfirmationService struct {
	requests  store.ConfirmationStore
	directory store.Directory
	audit     *AuditService
	log       *zap.Logger

	confirmBaseURL string
	loginURL       string
	linkTTL        time.Duration
	tokenTTL       time.Duration
	tokenBytes     int
	now            func() time.Time
}

// NewConfirmationService constructs a ConfirmationService with the provided dependencies.
func NewConfirmationService(requests store.ConfirmationStore, directory store.Directory, opts ...ConfirmationOption) (*ConfirmationService, error) {
	if requests == nil {
		return nil, errors.New("confirmation service: confirmation store is required")
	}
	if directory == nil {
		return nil, errors.New("confirmation service: directory is required")
	}

	service := &ConfirmationService{
		requests:       requests,
		directory:      directory,
		log:            logger.WithModule("confirmations"),
		confirmBaseURL: defaultConfirmBaseURL,
		loginURL:       defaultLoginURL,
		linkTTL:        defaultLinkTTL,
		tokenTTL:       defaultTokenTTL,
		tokenBytes:     defaultConfirmTokenBytes,
		now:            func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// GenerateConfirmation resolves patientEmail and records a pending request for the pair.
// An unexpired pending request for the same pair is reused so the link stays stable.
func (s *ConfirmationService) GenerateConfirmation(ctx context.Context, doctorID, patientEmail string) (*ConfirmationInvite, error) {
	ctx = ensureContext(ctx)

	doctorID = strings.TrimSpace(doctorID)
	email := store.NormalizeEmail(patientEmail)
	if doctorID == "" || email == "" {
		return nil, s.reject("generate", "invalid_argument", ErrConfirmationInvalidArgument)
	}

	patient, err := s.directory.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, s.reject("generate", "patient_not_found", ErrConfirmationPatientNotFound)
	case err != nil:
		return nil, s.unavailable("generate", "lookup patient", err)
	case !patient.IsPatient():
		return nil, s.reject("generate", "not_a_patient", ErrConfirmationPatientNotFound)
	}

	linked, err := s.requests.IsLinked(ctx, doctorID, patient.ID)
	if err != nil {
		return nil, s.unavailable("generate", "check link", err)
	}
	if linked {
		return nil, s.reject("generate", "already_linked", ErrConfirmationAlreadyLinked)
	}

	req, reused, err := s.createOrReusePending(ctx, doctorID, patient.ID, email)
	if err != nil {
		return nil, err
	}

	link := s.confirmationLink(doctorID, patient.ID)
	if !reused {
		metrics.ConfirmationTransitions.WithLabelValues(string(models.ConfirmationPending)).Inc()
	}
	s.record(ctx, doctorID, AuditActionConfirmationGenerate, req.ID, AuditResultSuccess, map[string]any{
		"patient_id": patient.ID,
		"reused":     reused,
	})

	return &ConfirmationInvite{
		Request:  req,
		Link:     link,
		Template: confirmationTemplate(link),
		Reused:   reused,
	}, nil
}

// createOrReusePending claims the pair's intent key. A stale active request is
// expired first; the second attempt covers a request that left the active set
// between the failed insert and the lookup.
func (s *ConfirmationService) createOrReusePending(ctx context.Context, doctorID, patientID, email string) (*models.ConfirmationRequest, bool, error) {
	const attempts = 2

	for attempt := 0; attempt < attempts; attempt++ {
		now := s.now()
		req := &models.ConfirmationRequest{
			DoctorID:     doctorID,
			PatientID:    patientID,
			PatientEmail: email,
		}
		req.CreatedAt = now
		req.UpdatedAt = now

		err := s.requests.CreatePending(ctx, req)
		if err == nil {
			return req, false, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, false, s.unavailable("generate", "create pending", err)
		}

		existing, err := s.requests.FindActive(ctx, doctorID, patientID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, s.unavailable("generate", "find active", err)
		}

		switch existing.State {
		case models.ConfirmationPending:
			if !existing.LinkExpired(now, s.linkTTL) {
				return existing, true, nil
			}
		case models.ConfirmationTokenIssued:
			if !existing.TokenExpired(now, s.tokenTTL) {
				return nil, false, s.reject("generate", "in_progress", ErrConfirmationInProgress)
			}
		}

		if err := s.expire(ctx, existing, now); err != nil {
			return nil, false, err
		}
	}

	return nil, false, s.reject("generate", "in_progress", ErrConfirmationInProgress)
}

// RedeemConfirmationLink issues the one-time token for the pair's pending request.
// Only one caller can win the Pending to TokenIssued transition.
func (s *ConfirmationService) RedeemConfirmationLink(ctx context.Context, doctorID, patientID string) (*ConfirmationRedemption, error) {
	ctx = ensureContext(ctx)

	doctorID = strings.TrimSpace(doctorID)
	patientID = strings.TrimSpace(patientID)
	if doctorID == "" || patientID == "" {
		return nil, s.reject("redeem", "invalid_argument", ErrConfirmationInvalidArgument)
	}

	req, err := s.requests.FindActive(ctx, doctorID, patientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.reject("redeem", "no_pending_request", ErrConfirmationInvalidOrExpired)
	}
	if err != nil {
		return nil, s.unavailable("redeem", "find active", err)
	}
	if req.State != models.ConfirmationPending {
		return nil, s.reject("redeem", "not_pending", ErrConfirmationInvalidOrExpired)
	}

	now := s.now()
	if req.LinkExpired(now, s.linkTTL) {
		if err := s.expire(ctx, req, now); err != nil {
			return nil, err
		}
		return nil, s.reject("redeem", "link_expired", ErrConfirmationInvalidOrExpired)
	}

	token, err := crypto.GenerateToken(s.tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("confirmation service: generate token: %w", err)
	}

	err = s.requests.IssueToken(ctx, req.ID, crypto.HashToken(token), now)
	if errors.Is(err, store.ErrStateMismatch) {
		return nil, s.reject("redeem", "lost_race", ErrConfirmationInvalidOrExpired)
	}
	if err != nil {
		return nil, s.unavailable("redeem", "issue token", err)
	}

	metrics.ConfirmationTransitions.WithLabelValues(string(models.ConfirmationTokenIssued)).Inc()
	s.record(ctx, doctorID, AuditActionConfirmationRedeem, req.ID, AuditResultSuccess, map[string]any{
		"patient_id": patientID,
	})

	return &ConfirmationRedemption{
		RequestID:   req.ID,
		Token:       token,
		RedirectURL: s.redirectURL(token),
	}, nil
}

// ConfirmWithToken links the doctor and patient named by the token. The caller
// must be the invited patient. Every rejection yields ErrConfirmationInvalidToken.
func (s *ConfirmationService) ConfirmWithToken(ctx context.Context, token, userID string) (*ConfirmationResult, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	userID = strings.TrimSpace(userID)
	if token == "" || userID == "" {
		return nil, s.reject("confirm", "invalid_argument", ErrConfirmationInvalidArgument)
	}

	now := s.now()
	reason := ""
	check := func(req *models.ConfirmationRequest) error {
		switch {
		case req.State != models.ConfirmationTokenIssued:
			reason = "not_token_issued"
		case req.TokenExpired(now, s.tokenTTL):
			reason = "token_expired"
		case req.PatientID != userID:
			reason = "wrong_user"
		default:
			return nil
		}
		return ErrConfirmationInvalidToken
	}

	req, link, err := s.requests.ConfirmToken(ctx, crypto.HashToken(token), now, check)
	switch {
	case err == nil:
	case errors.Is(err, ErrConfirmationInvalidToken):
		s.record(ctx, userID, AuditActionConfirmationConfirm, "", AuditResultDenied, map[string]any{"reason": reason})
		return nil, s.reject("confirm", reason, ErrConfirmationInvalidToken)
	case errors.Is(err, store.ErrNotFound):
		return nil, s.reject("confirm", "unknown_token", ErrConfirmationInvalidToken)
	case errors.Is(err, store.ErrStateMismatch):
		return nil, s.reject("confirm", "lost_race", ErrConfirmationInvalidToken)
	default:
		return nil, s.unavailable("confirm", "confirm token", err)
	}

	metrics.ConfirmationTransitions.WithLabelValues(string(models.ConfirmationConfirmed)).Inc()
	metrics.LinksConfirmed.Inc()
	s.record(ctx, userID, AuditActionConfirmationConfirm, req.ID, AuditResultSuccess, map[string]any{
		"doctor_id": req.DoctorID,
	})

	return &ConfirmationResult{Request: req, Link: link}, nil
}

// ListRequests returns the doctor's confirmation requests, optionally filtered by state.
func (s *ConfirmationService) ListRequests(ctx context.Context, doctorID, state string) ([]models.ConfirmationRequest, error) {
	ctx = ensureContext(ctx)

	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, ErrConfirmationInvalidArgument
	}
	filter := models.ConfirmationState(strings.TrimSpace(state))
	if filter != "" && !filter.Valid() {
		return nil, ErrConfirmationInvalidArgument
	}

	requests, err := s.requests.ListRequests(ctx, doctorID, filter)
	if err != nil {
		return nil, s.unavailable("list", "list requests", err)
	}
	return requests, nil
}

// ExpireStale moves pending requests past the link TTL and issued tokens past
// the token TTL to Expired, returning the number of requests changed.
func (s *ConfirmationService) ExpireStale(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	count, err := s.requests.ExpireStale(ctx, now.Add(-s.linkTTL), now.Add(-s.tokenTTL), now)
	if err != nil {
		return 0, s.unavailable("expire", "expire stale", err)
	}
	if count > 0 {
		metrics.ConfirmationTransitions.WithLabelValues(string(models.ConfirmationExpired)).Add(float64(count))
		s.record(ctx, "", AuditActionConfirmationExpire, "", AuditResultSuccess, map[string]any{"count": count})
	}
	return count, nil
}

// IsLinked reports whether the doctor may read the patient's data.
func (s *ConfirmationService) IsLinked(ctx context.Context, doctorID, patientID string) (bool, error) {
	linked, err := s.requests.IsLinked(ensureContext(ctx), doctorID, patientID)
	if err != nil {
		return false, s.unavailable("access", "is linked", err)
	}
	return linked, nil
}

func (s *ConfirmationService) expire(ctx context.Context, req *models.ConfirmationRequest, now time.Time) error {
	err := s.requests.Expire(ctx, req.ID, req.State, now)
	if err != nil && !errors.Is(err, store.ErrStateMismatch) {
		return s.unavailable("expire", "expire request", err)
	}
	if err == nil {
		metrics.ConfirmationTransitions.WithLabelValues(string(models.ConfirmationExpired)).Inc()
		s.record(ctx, req.DoctorID, AuditActionConfirmationExpire, req.ID, AuditResultSuccess, map[string]any{
			"from": string(req.State),
		})
	}
	return nil
}

func (s *ConfirmationService) confirmationLink(doctorID, patientID string) string {
	values := url.Values{}
	values.Set("doctorId", doctorID)
	values.Set("patientId", patientID)
	return appendQuery(s.confirmBaseURL, values)
}

func (s *ConfirmationService) redirectURL(token string) string {
	values := url.Values{}
	values.Set("token", token)
	return appendQuery(s.loginURL, values)
}

func (s *ConfirmationService) reject(op, reason string, err error) error {
	metrics.ConfirmationFailures.WithLabelValues(op, reason).Inc()
	s.log.Debug("confirmation rejected", zap.String("operation", op), zap.String("reason", reason))
	return err
}

func (s *ConfirmationService) unavailable(op, step string, err error) error {
	metrics.ConfirmationFailures.WithLabelValues(op, "unavailable").Inc()
	s.log.Error("confirmation store failure", zap.String("operation", op), zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrConfirmationUnavailable, step, err)
}

func (s *ConfirmationService) record(ctx context.Context, userID, action, requestID, result string, metadata map[string]any) {
	entry := AuditEntry{
		Action:   action,
		Result:   result,
		Metadata: metadata,
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if requestID != "" {
		entry.Resource = "confirmation:" + requestID
	}
	recordAudit(s.audit, ctx, entry)
}

func confirmationTemplate(link string) EmailTemplate {
	return EmailTemplate{
		Subject: confirmationEmailSubject,
		Body: fmt.Sprintf("A doctor wants to add you as a patient on TicVision. Click the link below to confirm your access:\n\n%s\n\nIf you did not request this, please ignore this email.", link),
	}
}

func appendQuery(base string, values url.Values) string {
	separator := "?"
	if strings.Contains(base, "?") {
		separator = "&"
	}
	return base + separator + values.Encode()
}
