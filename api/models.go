package api

import "github.com/pilab-dev/biolock/domain"

// FormRequest carries the login form fields.
type FormRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PinRequest carries the PIN entered on the fallback screen.
type PinRequest struct {
	Pin string `json:"pin"`
}

// TokenRequest carries a recovered session token.
type TokenRequest struct {
	Token string `json:"token"`
}

// FormStateResponse is the JSON form of domain.LoginFormState.
type FormStateResponse struct {
	Valid         bool              `json:"valid"`
	UsernameError *domain.ErrorCode `json:"username_error,omitempty"`
	PasswordError *domain.ErrorCode `json:"password_error,omitempty"`
}

// NewFormStateResponse converts a form state for the wire.
func NewFormStateResponse(state domain.LoginFormState) FormStateResponse {
	switch s := state.(type) {
	case domain.FailedLoginFormState:
		return FormStateResponse{UsernameError: s.UsernameError, PasswordError: s.PasswordError}
	case domain.SuccessfulLoginFormState:
		return FormStateResponse{Valid: s.IsDataValid}
	default:
		return FormStateResponse{}
	}
}

// LoginResponse is returned by every login endpoint.
type LoginResponse struct {
	Result string `json:"result"`
	State  string `json:"state"`
	// Warning is set when the login succeeded but a follow-up step did not.
	Warning string `json:"warning,omitempty"`
}

// SessionResponse describes the machine and the stored credentials. The session
// token itself is never returned, only its hash.
type SessionResponse struct {
	State               string `json:"state"`
	LastResult          string `json:"last_result,omitempty"`
	HasSession          bool   `json:"has_session"`
	TokenHash           string `json:"token_hash,omitempty"`
	HasStoredToken      bool   `json:"has_stored_token"`
	HasPendingCipher    bool   `json:"has_pending_cipher"`
	BiometricsAvailable bool   `json:"biometrics_available"`
}

// StatusResponse acknowledges an operation without a login result.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error       string             `json:"error"`
	Description string             `json:"error_description,omitempty"`
	Form        *FormStateResponse `json:"form,omitempty"`
}
