package bioecho

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/biolock/api"
	"github.com/pilab-dev/biolock/domain"
	bioerrors "github.com/pilab-dev/biolock/errors"
	"github.com/pilab-dev/biolock/login"
	"github.com/pilab-dev/biolock/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// LoginAPI exposes a login.Machine over HTTP.
type LoginAPI struct {
	machine  *login.Machine
	gatherer prometheus.Gatherer
}

// NewLoginAPI creates the API. When gatherer is nil, /metrics is not registered.
func NewLoginAPI(machine *login.Machine, gatherer prometheus.Gatherer) *LoginAPI {
	return &LoginAPI{machine: machine, gatherer: gatherer}
}

// RegisterRoutes registers the login routes.
func (a *LoginAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/form/evaluate", a.EvaluateFormHandler)

	e.POST("/login/password", a.PasswordLoginHandler)
	e.POST("/login/pin", a.PinLoginHandler)
	e.POST("/login/token", a.TokenLoginHandler)

	e.POST("/biometric/enable", a.EnableBiometricsHandler)
	e.POST("/biometric/unlock", a.UnlockHandler)
	e.POST("/biometric/prepare", a.PrepareReEnrollmentHandler)
	e.DELETE("/biometric", a.DisableBiometricsHandler)

	e.GET("/session", a.SessionHandler)

	if a.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	}
}

// EvaluateFormHandler validates the form fields without logging in.
func (a *LoginAPI) EvaluateFormHandler(c echo.Context) error {
	var req api.FormRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, invalidRequest("malformed form"))
	}

	state := a.machine.EvaluateForm(req.Username, req.Password)

	return c.JSON(http.StatusOK, api.NewFormStateResponse(state))
}

// PasswordLoginHandler logs in with username and password.
func (a *LoginAPI) PasswordLoginHandler(c echo.Context) error {
	var req api.FormRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, invalidRequest("malformed form"))
	}

	result, err := a.machine.LoginWithPassword(c.Request().Context(), req.Username, req.Password)

	return a.loginResponse(c, result, err)
}

// PinLoginHandler logs in with a PIN.
func (a *LoginAPI) PinLoginHandler(c echo.Context) error {
	var req api.PinRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, invalidRequest("malformed pin request"))
	}
	if req.Pin == "" {
		return c.JSON(http.StatusBadRequest, invalidRequest("pin is required"))
	}

	result, err := a.machine.LoginWithPin(c.Request().Context(), req.Pin)

	return a.loginResponse(c, result, err)
}

// TokenLoginHandler logs in with a recovered token.
func (a *LoginAPI) TokenLoginHandler(c echo.Context) error {
	var req api.TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, invalidRequest("malformed token request"))
	}
	if req.Token == "" {
		return c.JSON(http.StatusBadRequest, invalidRequest("token is required"))
	}

	result, err := a.machine.LoginWithToken(c.Request().Context(), domain.Token(req.Token))

	return a.loginResponse(c, result, err)
}

// EnableBiometricsHandler stores the current token behind the capability.
func (a *LoginAPI) EnableBiometricsHandler(c echo.Context) error {
	if err := a.machine.EnableBiometricLogin(c.Request().Context()); err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, api.StatusResponse{Status: "enabled"})
}

// DisableBiometricsHandler forgets the stored token.
func (a *LoginAPI) DisableBiometricsHandler(c echo.Context) error {
	if err := a.machine.DisableBiometricLogin(c.Request().Context()); err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, api.StatusResponse{Status: "disabled"})
}

// UnlockHandler recovers the stored token and logs in with it.
func (a *LoginAPI) UnlockHandler(c echo.Context) error {
	result, err := a.machine.UnlockWithBiometrics(c.Request().Context())

	return a.loginResponse(c, result, err)
}

// PrepareReEnrollmentHandler unlocks a cipher for the PIN step.
func (a *LoginAPI) PrepareReEnrollmentHandler(c echo.Context) error {
	if err := a.machine.PrepareReEnrollment(c.Request().Context()); err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, api.StatusResponse{Status: "prepared"})
}

// SessionHandler reports the machine state.
func (a *LoginAPI) SessionHandler(c echo.Context) error {
	ctx := c.Request().Context()

	resp, err := a.session(ctx)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

func (a *LoginAPI) session(ctx context.Context) (api.SessionResponse, error) {
	resp := api.SessionResponse{
		State:               a.machine.State().String(),
		HasPendingCipher:    a.machine.HasPendingCipher(),
		BiometricsAvailable: a.machine.BiometricsAvailable(ctx),
	}
	if r := a.machine.LastResult(); r != 0 {
		resp.LastResult = r.String()
	}

	token, ok, err := a.machine.CurrentToken(ctx)
	if err != nil {
		return resp, err
	}
	if ok {
		resp.HasSession = true
		resp.TokenHash = registry.HashToken(token)
	}

	resp.HasStoredToken, err = a.machine.HasStoredToken(ctx)

	return resp, err
}

func (a *LoginAPI) loginResponse(c echo.Context, result domain.LoginResult, err error) error {
	// A PIN login can succeed while storing the new token fails.
	if result == domain.LoginResultSuccess && err != nil {
		log.Warn().Err(err).Msg("login succeeded with a follow-up failure")
		return c.JSON(http.StatusOK, api.LoginResponse{
			Result:  result.String(),
			State:   a.machine.State().String(),
			Warning: err.Error(),
		})
	}
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, api.LoginResponse{Result: result.String(), State: a.machine.State().String()})
}

func invalidRequest(description string) api.ErrorResponse {
	return api.ErrorResponse{Error: "invalid_request", Description: description}
}

// errorResponse maps the error taxonomy to HTTP statuses.
func errorResponse(c echo.Context, err error) error {
	var verr *bioerrors.ValidationError
	if errors.As(err, &verr) {
		form := api.NewFormStateResponse(verr.State)
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:       "invalid_form",
			Description: err.Error(),
			Form:        &form,
		})
	}

	status, code := http.StatusInternalServerError, "server_error"
	switch {
	case errors.Is(err, bioerrors.ErrNoSession):
		status, code = http.StatusConflict, "no_session"
	case errors.Is(err, bioerrors.ErrNotAwaitingPin):
		status, code = http.StatusConflict, "not_awaiting_pin"
	case errors.Is(err, bioerrors.ErrNoStoredToken):
		status, code = http.StatusNotFound, "no_stored_token"
	case errors.Is(err, bioerrors.ErrCapabilityDeclined):
		status, code = http.StatusForbidden, "declined"
	case errors.Is(err, bioerrors.ErrCapabilityUnavailable):
		status, code = http.StatusServiceUnavailable, "capability_unavailable"
	case errors.Is(err, bioerrors.ErrDecryption), errors.Is(err, bioerrors.ErrUnsupportedBlobVersion):
		status, code = http.StatusGone, "stored_token_unusable"
	case errors.Is(err, bioerrors.ErrEncryption):
		status, code = http.StatusConflict, "encryption_failed"
	case errors.Is(err, bioerrors.ErrCapabilityFailed):
		status, code = http.StatusBadGateway, "capability_failed"
	case errors.Is(err, context.Canceled):
		status, code = http.StatusRequestTimeout, "cancelled"
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}

	return c.JSON(status, api.ErrorResponse{Error: code, Description: err.Error()})
}
