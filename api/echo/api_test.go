package bioecho_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/biolock/api"
	bioecho "github.com/pilab-dev/biolock/api/echo"
	"github.com/pilab-dev/biolock/capability"
	"github.com/pilab-dev/biolock/domain"
	"github.com/pilab-dev/biolock/internal/metrics"
	biolog "github.com/pilab-dev/biolock/log"
	"github.com/pilab-dev/biolock/login"
	"github.com/pilab-dev/biolock/registry"
	"github.com/pilab-dev/biolock/storage"
	"github.com/pilab-dev/biolock/tokenstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	e        *echo.Echo
	registry *registry.Memory
	keystore *capability.SoftwareKeystore
	kv       storage.Storage
	outcome  *capability.Outcome
	onPrompt *func()
}

func setupAPI(t *testing.T) *testServer {
	t.Helper()

	outcome := capability.OutcomeOK
	var onPrompt func()
	prompter := capability.PrompterFunc(func(_ context.Context, _ capability.PromptInfo) (capability.Outcome, error) {
		if onPrompt != nil {
			onPrompt()
		}
		return outcome, nil
	})

	kv := storage.NewMemory()
	ks, err := capability.NewSoftwareKeystore(bytes.Repeat([]byte{1}, capability.MinSecretSize), kv, prompter)
	require.NoError(t, err)

	reg := registry.NewMemory()
	machine := login.New(reg, login.NewFakeBackend(), tokenstore.New(kv), ks)

	promReg := prometheus.NewRegistry()
	metrics.Register(promReg)

	e := echo.New()
	e.Use(bioecho.SecurityHeaders())
	e.Use(bioecho.RequestLogger(biolog.NewZerologAdapter(zerolog.Disabled, false, io.Discard, false)))
	bioecho.NewLoginAPI(machine, promReg).RegisterRoutes(e)

	return &testServer{e: e, registry: reg, keystore: ks, kv: kv, outcome: &outcome, onPrompt: &onPrompt}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestEvaluateFormHandler(t *testing.T) {
	s := setupAPI(t)

	rec := s.do(t, http.MethodPost, "/form/evaluate", api.FormRequest{Username: "", Password: ""})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[api.FormStateResponse](t, rec)
	assert.False(t, resp.Valid)
	require.NotNil(t, resp.UsernameError)
	require.NotNil(t, resp.PasswordError)
	assert.Equal(t, domain.ErrorCodeInvalidUsername, *resp.UsernameError)
	assert.Equal(t, domain.ErrorCodeInvalidPassword, *resp.PasswordError)

	rec = s.do(t, http.MethodPost, "/form/evaluate", api.FormRequest{Username: "alice", Password: "abcdef"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.FormStateResponse](t, rec).Valid)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestPasswordLoginHandler_InvalidForm(t *testing.T) {
	s := setupAPI(t)

	rec := s.do(t, http.MethodPost, "/login/password", api.FormRequest{Username: "alice"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "invalid_form", resp.Error)
	require.NotNil(t, resp.Form)
	assert.Nil(t, resp.Form.UsernameError)
	require.NotNil(t, resp.Form.PasswordError)
}

func TestBiometricFlow(t *testing.T) {
	s := setupAPI(t)

	rec := s.do(t, http.MethodPost, "/biometric/unlock", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_stored_token", decode[api.ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/biometric/enable", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/login/password", api.FormRequest{Username: "alice", Password: "abcdef"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, api.LoginResponse{Result: "success", State: "success"}, decode[api.LoginResponse](t, rec))

	rec = s.do(t, http.MethodPost, "/biometric/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	session := decode[api.SessionResponse](t, rec)
	assert.True(t, session.HasSession)
	assert.True(t, session.HasStoredToken)
	assert.True(t, session.BiometricsAvailable)
	assert.Len(t, session.TokenHash, 64)
	assert.NotContains(t, rec.Body.String(), `"token"`)

	*s.outcome = capability.OutcomeCancelled
	rec = s.do(t, http.MethodPost, "/biometric/unlock", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	*s.outcome = capability.OutcomeOK
	rec = s.do(t, http.MethodPost, "/biometric/unlock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode[api.LoginResponse](t, rec).Result)

	rec = s.do(t, http.MethodDelete, "/biometric", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/biometric/unlock", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequirePinFlow(t *testing.T) {
	s := setupAPI(t)

	rec := s.do(t, http.MethodPost, "/biometric/prepare", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/login/password", api.FormRequest{Username: "alice", Password: "abcdef"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/biometric/enable", nil).Code)

	rec = s.do(t, http.MethodPost, "/login/password", api.FormRequest{Username: "alice", Password: "abcdef"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/biometric/unlock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, api.LoginResponse{Result: "require_pin", State: "require_pin"}, decode[api.LoginResponse](t, rec))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/biometric/prepare", nil).Code)

	rec = s.do(t, http.MethodPost, "/login/pin", api.PinRequest{Pin: "12345"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode[api.LoginResponse](t, rec).Result)

	rec = s.do(t, http.MethodPost, "/biometric/unlock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode[api.LoginResponse](t, rec).Result)
}

func TestTokenLoginHandler(t *testing.T) {
	s := setupAPI(t)

	rec := s.do(t, http.MethodPost, "/login/token", api.TokenRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/login/token", api.TokenRequest{Token: "fresh"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode[api.LoginResponse](t, rec).Result)

	rec = s.do(t, http.MethodPost, "/login/pin", api.PinRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnlockHandler_KeyInvalidated(t *testing.T) {
	s := setupAPI(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/login/password", api.FormRequest{Username: "a", Password: "b"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/biometric/enable", nil).Code)
	require.NoError(t, s.keystore.InvalidateKey(context.Background(), login.DefaultKeyName))

	rec := s.do(t, http.MethodPost, "/biometric/unlock", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "stored_token_unusable", decode[api.ErrorResponse](t, rec).Error)
}

func TestUnlockHandler_UnsupportedBlobVersion(t *testing.T) {
	s := setupAPI(t)

	dest := domain.DefaultDestination
	require.NoError(t, s.kv.Put(context.Background(), dest.Namespace, dest.Key,
		[]byte(`{"version":9,"ciphertext":"AAAA","iv":"AAAA"}`)))

	rec := s.do(t, http.MethodPost, "/biometric/unlock", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "stored_token_unusable", decode[api.ErrorResponse](t, rec).Error)
}

func TestEnableHandler_EncryptionFailed(t *testing.T) {
	s := setupAPI(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/login/password", api.FormRequest{Username: "a", Password: "b"}).Code)

	// The key changes while the prompt is up, so the unlocked cipher is stale.
	*s.onPrompt = func() {
		require.NoError(t, s.keystore.InvalidateKey(context.Background(), login.DefaultKeyName))
	}

	rec := s.do(t, http.MethodPost, "/biometric/enable", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "encryption_failed", decode[api.ErrorResponse](t, rec).Error)
}

func TestUnlockHandler_Unavailable(t *testing.T) {
	s := setupAPI(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/login/password", api.FormRequest{Username: "a", Password: "b"}).Code)
	s.keystore.SetAvailability(capability.NoHardware)

	rec := s.do(t, http.MethodPost, "/biometric/enable", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsHandler(t *testing.T) {
	s := setupAPI(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/login/password", api.FormRequest{Username: "a", Password: "b"}).Code)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "biolock_logins_total"))
}

func TestDeviceCredentialMiddleware(t *testing.T) {
	hasher := capability.NewBcryptHasher(4)
	prompter, err := capability.NewDeviceCredentialPrompter(hasher, "2468", capability.ContextCredentialReader)
	require.NoError(t, err)

	kv := storage.NewMemory()
	ks, err := capability.NewSoftwareKeystore(bytes.Repeat([]byte{2}, capability.MinSecretSize), kv, prompter)
	require.NoError(t, err)
	machine := login.New(registry.NewMemory(), login.NewFakeBackend(), tokenstore.New(kv), ks)

	e := echo.New()
	e.Use(bioecho.DeviceCredential())
	bioecho.NewLoginAPI(machine, nil).RegisterRoutes(e)

	post := func(path, credential string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"username":"a","password":"b"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if credential != "" {
			req.Header.Set(bioecho.HeaderDeviceCredential, credential)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, post("/login/password", ""))
	assert.Equal(t, http.StatusForbidden, post("/biometric/enable", ""))
	assert.Equal(t, http.StatusForbidden, post("/biometric/enable", "1111"))
	assert.Equal(t, http.StatusOK, post("/biometric/enable", "2468"))
	assert.Equal(t, http.StatusOK, post("/biometric/unlock", "2468"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
