// Package form validates the username/password login form. It is called on every
// keystroke, so it is pure and cheap.
package form

import "github.com/pilab-dev/biolock/domain"

// PasswordPolicy decides whether a non-empty password is acceptable.
type PasswordPolicy func(password string) bool

// AcceptAll is the placeholder policy: any non-empty password is fine.
func AcceptAll(string) bool { return true }

// Evaluator turns raw form input into a domain.LoginFormState.
type Evaluator struct {
	Policy PasswordPolicy
}

// Evaluate validates with the default policy.
func Evaluate(username, password string) domain.LoginFormState {
	return Evaluator{Policy: AcceptAll}.Evaluate(username, password)
}

// Evaluate returns SuccessfulLoginFormState only when both fields are non-empty and
// the password passes the policy. Username and password errors are independent.
func (e Evaluator) Evaluate(username, password string) domain.LoginFormState {
	policy := e.Policy
	if policy == nil {
		policy = AcceptAll
	}

	var failed domain.FailedLoginFormState
	if username == "" {
		failed.UsernameError = domain.CodePtr(domain.ErrorCodeInvalidUsername)
	}
	if password == "" || !policy(password) {
		failed.PasswordError = domain.CodePtr(domain.ErrorCodeInvalidPassword)
	}

	if failed.UsernameError != nil || failed.PasswordError != nil {
		return failed
	}

	return domain.SuccessfulLoginFormState{IsDataValid: true}
}
