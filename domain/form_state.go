package domain

// ErrorCode identifies a field-level validation failure on the login form.
type ErrorCode string

const (
	ErrorCodeInvalidUsername ErrorCode = "invalid_username"
	ErrorCodeInvalidPassword ErrorCode = "invalid_password"
)

// LoginFormState is the validation state of the login form. It is either a
// FailedLoginFormState or a SuccessfulLoginFormState.
type LoginFormState interface {
	// Valid reports whether the submit control should be enabled.
	Valid() bool

	loginFormState()
}

// FailedLoginFormState carries the field errors of an invalid form. Both fields may be set.
type FailedLoginFormState struct {
	UsernameError *ErrorCode `json:"username_error,omitempty"`
	PasswordError *ErrorCode `json:"password_error,omitempty"`
}

// SuccessfulLoginFormState is returned when every field passed validation.
type SuccessfulLoginFormState struct {
	IsDataValid bool `json:"is_data_valid"`
}

func (FailedLoginFormState) Valid() bool       { return false }
func (s SuccessfulLoginFormState) Valid() bool { return s.IsDataValid }

func (FailedLoginFormState) loginFormState()     {}
func (SuccessfulLoginFormState) loginFormState() {}

// Codes returns the error codes set on the failed state.
func (s FailedLoginFormState) Codes() []ErrorCode {
	var codes []ErrorCode
	if s.UsernameError != nil {
		codes = append(codes, *s.UsernameError)
	}
	if s.PasswordError != nil {
		codes = append(codes, *s.PasswordError)
	}
	return codes
}

// CodePtr returns a pointer to c, for building FailedLoginFormState literals.
func CodePtr(c ErrorCode) *ErrorCode { return &c }
