package handlers_test

import (
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ticvision/portal/internal/handlers/testutil"
	"github.com/ticvision/portal/internal/models"
)

type generateResult struct {
	ConfirmationLink string `json:"confirmationLink"`
	EmailTemplate    struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	} `json:"emailTemplate"`
	RequestID string `json:"requestId"`
	Reused    bool   `json:"reused"`
}

func generate(t *testing.T, env *testutil.Env, doctor *models.User, email string) generateResult {
	t.Helper()

	w := env.Request(http.MethodPost, "/generateConfirmation", map[string]string{
		"doctorId":     doctor.ID,
		"patientEmail": email,
	}, env.Token(doctor))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result generateResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &result)
	return result
}

// redeemPath turns an invitation link into a request path for the test router.
func redeemPath(t *testing.T, link string) string {
	t.Helper()
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	return parsed.RequestURI()
}

func tokenFromRedirect(t *testing.T, location string) string {
	t.Helper()
	parsed, err := url.Parse(location)
	require.NoError(t, err)
	require.Equal(t, testutil.LoginURL, parsed.Scheme+"://"+parsed.Host+parsed.Path)
	token := parsed.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func countRequests(t *testing.T, env *testutil.Env, doctorID, patientID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, env.DB.Model(&models.ConfirmationRequest{}).
		Where("doctor_id = ? AND patient_id = ?", doctorID, patientID).
		Count(&count).Error)
	return count
}

func TestConfirmationFlow_EndToEnd(t *testing.T) {
	env := testutil.NewEnv(t)
	doctor := env.CreateUser(models.RoleDoctor)
	patient := env.CreateUser(models.RolePatient)

	invite := generate(t, env, doctor, patient.Email)
	require.Equal(t, testutil.ConfirmBaseURL+"?doctorId="+url.QueryEscape(doctor.ID)+"&patientId="+url.QueryEscape(patient.ID), invite.ConfirmationLink)
	require.Contains(t, invite.EmailTemplate.Body, invite.ConfirmationLink)
	require.NotEmpty(t, invite.EmailTemplate.Subject)
	require.False(t, invite.Reused)

	// Generating again reuses the pending request.
	again := generate(t, env, doctor, patient.Email)
	require.True(t, again.Reused)
	require.Equal(t, invite.RequestID, again.RequestID)
	require.EqualValues(t, 1, countRequests(t, env, doctor.ID, patient.ID))

	redeem := env.Request(http.MethodGet, redeemPath(t, invite.ConfirmationLink), nil, "")
	require.Equal(t, http.StatusFound, redeem.Code, redeem.Body.String())
	token := tokenFromRedirect(t, redeem.Header().Get("Location"))

	// A second redeem of the same link fails.
	second := env.Request(http.MethodGet, redeemPath(t, invite.ConfirmationLink), nil, "")
	require.Equal(t, http.StatusBadRequest, second.Code)
	require.Equal(t, "CONFIRMATION_INVALID_OR_EXPIRED", testutil.DecodeResponse(t, second).Error.Code)

	// Generating while a token is outstanding conflicts.
	inProgress := env.Request(http.MethodPost, "/generateConfirmation", map[string]string{
		"doctorId":     doctor.ID,
		"patientEmail": patient.Email,
	}, env.Token(doctor))
	require.Equal(t, http.StatusConflict, inProgress.Code)

	confirm := env.Request(http.MethodPost, "/api/confirmations/confirm", map[string]string{"token": token}, env.Token(patient))
	require.Equal(t, http.StatusOK, confirm.Code, confirm.Body.String())
	var confirmed struct {
		Link    models.DoctorPatientLink   `json:"link"`
		Request models.ConfirmationRequest `json:"request"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, confirm).Data, &confirmed)
	require.Equal(t, doctor.ID, confirmed.Link.DoctorID)
	require.Equal(t, patient.ID, confirmed.Link.PatientID)
	require.Equal(t, models.ConfirmationConfirmed, confirmed.Request.State)

	// The token is accepted exactly once.
	replay := env.Request(http.MethodPost, "/api/confirmations/confirm", map[string]string{"token": token}, env.Token(patient))
	require.Equal(t, http.StatusBadRequest, replay.Code)
	require.Equal(t, "CONFIRMATION_TOKEN_INVALID", testutil.DecodeResponse(t, replay).Error.Code)

	// Linked patients show up on the dashboard.
	patients := env.Request(http.MethodGet, "/api/doctors/me/patients", nil, env.Token(doctor))
	require.Equal(t, http.StatusOK, patients.Code, patients.Body.String())
	resp := testutil.DecodeResponse(t, patients)
	require.Equal(t, 1, resp.Meta.Total)
	var rows []map[string]any
	testutil.DecodeInto(t, resp.Data, &rows)
	require.Equal(t, patient.ID, rows[0]["id"])

	// Already linked pairs cannot be invited again.
	linked := env.Request(http.MethodPost, "/generateConfirmation", map[string]string{
		"doctorId":     doctor.ID,
		"patientEmail": patient.Email,
	}, env.Token(doctor))
	require.Equal(t, http.StatusConflict, linked.Code)

	history := env.Request(http.MethodGet, "/api/confirmations?state=confirmed", nil, env.Token(doctor))
	require.Equal(t, http.StatusOK, history.Code, history.Body.String())
	require.Equal(t, 1, testutil.DecodeResponse(t, history).Meta.Total)
}

func TestGenerateConfirmation_Errors(t *testing.T) {
	env := testutil.NewEnv(t)
	doctor := env.CreateUser(models.RoleDoctor)
	otherDoctor := env.CreateUser(models.RoleDoctor)
	patient := env.CreateUser(models.RolePatient)

	missing := env.Request(http.MethodPost, "/generateConfirmation", map[string]string{
		"doctorId": doctor.ID,
	}, env.Token(doctor))
	require.Equal(t, http.StatusBadRequest, missing.Code)

	blank := env.Request(http.MethodPost, "/generateConfirmation", map[string]string{
		"doctorId":     doctor.ID,
		"patientEmail": "   ",
	}, env.Token(doctor))
	require.Equal(t, http.StatusBadRequest, blank.Code)

	unauth := env.Request(http.MethodPost, "/generateConfirmation", map[string]string{
		"doctorId":     doctor.ID,
		"patientEmail": patient.Email,
	}, "")
	require.Equal(t, http.StatusUnauthorized, unauth.Code)

	impersonate := env.Request(http.MethodPost, "/generateConfirmation", map[string]string{
		"doctorId":     otherDoctor.ID,
		"patientEmail": patient.Email,
	}, env.Token(doctor))
	require.Equal(t, http.StatusForbidden, impersonate.Code)

	asPatient := env.Request(http.MethodPost, "/generateConfirmation", map[string]string{
		"doctorId":     patient.ID,
		"patientEmail": patient.Email,
	}, env.Token(patient))
	require.Equal(t, http.StatusForbidden, asPatient.Code)

	notFound := env.Request(http.MethodPost, "/generateConfirmation", map[string]string{
		"doctorId":     doctor.ID,
		"patientEmail": "nobody@example.com",
	}, env.Token(doctor))
	require.Equal(t, http.StatusNotFound, notFound.Code)
	require.Equal(t, "PATIENT_NOT_FOUND", testutil.DecodeResponse(t, notFound).Error.Code)

	var total int64
	require.NoError(t, env.DB.Model(&models.ConfirmationRequest{}).Count(&total).Error)
	require.Zero(t, total)
}

func TestRedeemConfirmation_Errors(t *testing.T) {
	env := testutil.NewEnv(t)

	missing := env.Request(http.MethodGet, "/confirmPatientRequest?doctorId=D1", nil, "")
	require.Equal(t, http.StatusBadRequest, missing.Code)

	unknown := env.Request(http.MethodGet, "/confirmPatientRequest?doctorId=D1&patientId=P1", nil, "")
	require.Equal(t, http.StatusBadRequest, unknown.Code)
	require.Equal(t, "CONFIRMATION_INVALID_OR_EXPIRED", testutil.DecodeResponse(t, unknown).Error.Code)
}

func TestRedeemConfirmation_ConcurrentSingleWinner(t *testing.T) {
	env := testutil.NewEnv(t)
	doctor := env.CreateUser(models.RoleDoctor)
	patient := env.CreateUser(models.RolePatient)
	invite := generate(t, env, doctor, patient.Email)
	path := redeemPath(t, invite.ConfirmationLink)

	const workers = 8
	codes := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = env.Request(http.MethodGet, path, nil, "").Code
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, code := range codes {
		if code == http.StatusFound {
			winners++
			continue
		}
		require.Equal(t, http.StatusBadRequest, code)
	}
	require.Equal(t, 1, winners)
}

func TestConfirmWithToken_WrongPatient(t *testing.T) {
	env := testutil.NewEnv(t)
	doctor := env.CreateUser(models.RoleDoctor)
	patient := env.CreateUser(models.RolePatient)
	intruder := env.CreateUser(models.RolePatient)

	invite := generate(t, env, doctor, patient.Email)
	redeem := env.Request(http.MethodGet, redeemPath(t, invite.ConfirmationLink), nil, "")
	require.Equal(t, http.StatusFound, redeem.Code)
	token := tokenFromRedirect(t, redeem.Header().Get("Location"))

	wrong := env.Request(http.MethodPost, "/api/confirmations/confirm", map[string]string{"token": token}, env.Token(intruder))
	require.Equal(t, http.StatusBadRequest, wrong.Code)
	require.Equal(t, "CONFIRMATION_TOKEN_INVALID", testutil.DecodeResponse(t, wrong).Error.Code)

	// The rightful patient can still confirm.
	ok := env.Request(http.MethodPost, "/api/confirmations/confirm", map[string]string{"token": token}, env.Token(patient))
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	blank := env.Request(http.MethodPost, "/api/confirmations/confirm", map[string]string{"token": " "}, env.Token(patient))
	require.Equal(t, http.StatusBadRequest, blank.Code)
}

func TestListConfirmations_RejectsUnknownState(t *testing.T) {
	env := testutil.NewEnv(t)
	doctor := env.CreateUser(models.RoleDoctor)
	patient := env.CreateUser(models.RolePatient)

	resp := env.Request(http.MethodGet, "/api/confirmations?state=bogus", nil, env.Token(doctor))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	forbidden := env.Request(http.MethodGet, "/api/confirmations", nil, env.Token(patient))
	require.Equal(t, http.StatusForbidden, forbidden.Code)

	empty := env.Request(http.MethodGet, "/api/confirmations", nil, env.Token(doctor))
	require.Equal(t, http.StatusOK, empty.Code)
	decoded := testutil.DecodeResponse(t, empty)
	require.Equal(t, 0, decoded.Meta.Total)
	require.JSONEq(t, "[]", string(decoded.Data))
}
