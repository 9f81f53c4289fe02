// Package login implements the login state machine that ties together the
// password/PIN login, the token registry and the biometric-gated token store.
//
//	Idle -> Authenticating -> Success | Failed | RequirePin
//
// A recovered token that the registry reports as expired yields RequirePin. The
// user then enters a PIN; if a cipher was unlocked for encryption in between
// (PrepareReEnrollment), the token minted by the PIN login is encrypted with it and
// persisted, replacing the stale blob.
package login

import (
	"context"
	"fmt"
	"sync"

	"github.com/pilab-dev/biolock/capability"
	"github.com/pilab-dev/biolock/domain"
	bioerrors "github.com/pilab-dev/biolock/errors"
	"github.com/pilab-dev/biolock/form"
	"github.com/pilab-dev/biolock/internal/audit"
	"github.com/pilab-dev/biolock/internal/metrics"
	"github.com/pilab-dev/biolock/tokenstore"
	"github.com/pilab-dev/biolock/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultKeyName names the capability key the token is encrypted with.
const DefaultKeyName = "biometric_sample_encryption_key"

const auditComponent = "login"

// Observer receives every login result the machine emits.
type Observer func(domain.LoginResult)

// Option configures a Machine.
type Option func(*Machine)

// WithKeyName sets the capability key name.
func WithKeyName(name string) Option {
	return func(m *Machine) { m.keyName = name }
}

// WithDestination sets where the encrypted blob is persisted.
func WithDestination(dest domain.Destination) Option {
	return func(m *Machine) { m.dest = dest }
}

// WithObserver registers an observer at construction time.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// WithEvaluator replaces the form evaluator.
func WithEvaluator(e form.Evaluator) Option {
	return func(m *Machine) { m.evaluator = e }
}

// Machine runs one login sequence at a time. Every exported method holds the
// machine lock for its whole duration, including capability prompts.
type Machine struct {
	mu sync.Mutex

	registry   domain.TokenRegistry
	backend    Backend
	store      *tokenstore.Store
	capability capability.Capability
	evaluator  form.Evaluator
	keyName    string
	dest       domain.Destination
	observers  []Observer

	state      domain.State
	lastResult domain.LoginResult
	formState  domain.LoginFormState
	pending    capability.Cipher
}

// New creates a Machine in StateIdle.
func New(
	registry domain.TokenRegistry,
	backend Backend,
	store *tokenstore.Store,
	capability capability.Capability,
	opts ...Option,
) *Machine {
	m := &Machine{
		registry:   registry,
		backend:    backend,
		store:      store,
		capability: capability,
		evaluator:  form.Evaluator{Policy: form.AcceptAll},
		keyName:    DefaultKeyName,
		dest:       domain.DefaultDestination,
		state:      domain.StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Observe registers an observer. Observers run after the machine lock is released.
func (m *Machine) Observe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// State returns the current state.
func (m *Machine) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastResult returns the most recent result, or 0 if none was emitted yet.
func (m *Machine) LastResult() domain.LoginResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// FormState returns the last evaluated form state, or nil.
func (m *Machine) FormState() domain.LoginFormState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.formState
}

// HasPendingCipher reports whether a cipher is stashed for the PIN step.
func (m *Machine) HasPendingCipher() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// BiometricsAvailable reports whether the capability can be used.
func (m *Machine) BiometricsAvailable(ctx context.Context) bool {
	return m.capability.CanAuthenticate(ctx) == capability.Available
}

// HasStoredToken reports whether an encrypted token is persisted.
func (m *Machine) HasStoredToken(ctx context.Context) (bool, error) {
	_, found, err := m.store.Load(ctx, m.dest)
	return found, err
}

// CurrentToken returns the session token held by the registry.
func (m *Machine) CurrentToken(ctx context.Context) (domain.Token, bool, error) {
	return m.registry.CurrentToken(ctx)
}

// EvaluateForm validates the form input and records the result.
func (m *Machine) EvaluateForm(username, password string) domain.LoginFormState {
	state := m.evaluator.Evaluate(username, password)

	m.mu.Lock()
	m.formState = state
	m.mu.Unlock()

	return state
}

// LoginWithPassword logs in with username and password. An invalid form moves the
// machine to StateFailed and returns a *errors.ValidationError.
func (m *Machine) LoginWithPassword(ctx context.Context, username, password string) (domain.LoginResult, error) {
	return m.run(ctx, "LoginWithPassword", func(ctx context.Context) (domain.LoginResult, error) {
		state := m.evaluator.Evaluate(username, password)
		m.formState = state
		if failed, ok := state.(domain.FailedLoginFormState); ok {
			m.state = domain.StateFailed
			metrics.LoginsTotal.WithLabelValues("password", "invalid_form").Inc()
			return 0, bioerrors.NewValidationError(failed)
		}

		m.state = domain.StateAuthenticating
		token, err := m.backend.LoginWithPassword(ctx, username, password)
		if err != nil {
			m.state = domain.StateFailed
			metrics.LoginsTotal.WithLabelValues("password", "error").Inc()
			return 0, fmt.Errorf("password login failed: %w", err)
		}

		return m.completeLocked(ctx, "password", token)
	})
}

// LoginWithPin logs in with a PIN. Every call mints and stores a fresh token.
//
// When it follows a RequirePin result and a cipher was stashed by
// PrepareReEnrollment, the new token is encrypted and persisted with that cipher,
// which is then cleared. If that persistence fails the session is still
// established: the result is LoginResultSuccess and the error reports the failure.
func (m *Machine) LoginWithPin(ctx context.Context, pin string) (domain.LoginResult, error) {
	return m.run(ctx, "LoginWithPin", func(ctx context.Context) (domain.LoginResult, error) {
		m.state = domain.StateAuthenticating
		token, err := m.backend.LoginWithPin(ctx, pin)
		if err != nil {
			m.state = domain.StateFailed
			metrics.LoginsTotal.WithLabelValues("pin", "error").Inc()
			return 0, fmt.Errorf("pin login failed: %w", err)
		}

		return m.completeLocked(ctx, "pin", token)
	})
}

// LoginWithToken logs in with a recovered token. An expired token yields
// LoginResultRequirePin and leaves the registry untouched.
func (m *Machine) LoginWithToken(ctx context.Context, token domain.Token) (domain.LoginResult, error) {
	return m.run(ctx, "LoginWithToken", func(ctx context.Context) (domain.LoginResult, error) {
		return m.loginWithTokenLocked(ctx, token)
	})
}

// EnableBiometricLogin encrypts the current session token behind the capability
// and persists it. A declined prompt returns errors.ErrCapabilityDeclined and
// changes nothing.
func (m *Machine) EnableBiometricLogin(ctx context.Context) error {
	_, err := m.run(ctx, "EnableBiometricLogin", func(ctx context.Context) (domain.LoginResult, error) {
		token, ok, err := m.registry.CurrentToken(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read current token: %w", err)
		}
		if !ok {
			return 0, bioerrors.ErrNoSession
		}

		c, err := m.unlockLocked(ctx, capability.ModeEncrypt, nil)
		if err != nil {
			audit.Log(auditComponent, "enable_biometrics", "unlock did not complete", false, err)
			return 0, err
		}

		if err := m.encryptAndPersistLocked(ctx, token, c); err != nil {
			audit.Log(auditComponent, "enable_biometrics", "persist failed", false, err)
			return 0, err
		}

		audit.Log(auditComponent, "enable_biometrics", "encrypted token stored", true, nil)
		return 0, nil
	})

	return err
}

// DisableBiometricLogin removes the stored blob. The registry is not touched.
func (m *Machine) DisableBiometricLogin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = nil
	if err := m.store.Clear(ctx, m.dest); err != nil {
		return err
	}
	audit.Log(auditComponent, "disable_biometrics", "encrypted token removed", true, nil)

	return nil
}

// UnlockWithBiometrics loads the stored blob, unlocks a decryption cipher for its
// IV, decrypts the token and logs in with it.
//
// Without a stored blob it returns errors.ErrNoStoredToken and never prompts. A
// declined or failed unlock and any decryption failure leave the registry
// untouched; the caller should offer the password or PIN path.
func (m *Machine) UnlockWithBiometrics(ctx context.Context) (domain.LoginResult, error) {
	return m.run(ctx, "UnlockWithBiometrics", func(ctx context.Context) (domain.LoginResult, error) {
		blob, found, err := m.store.Load(ctx, m.dest)
		if err != nil {
			metrics.UnlockFailuresTotal.WithLabelValues("load").Inc()
			return 0, err
		}
		if !found {
			metrics.UnlockFailuresTotal.WithLabelValues("no_blob").Inc()
			return 0, bioerrors.ErrNoStoredToken
		}

		c, err := m.unlockLocked(ctx, capability.ModeDecrypt, blob.IV)
		if bioerrors.Is(err, bioerrors.ErrDecryption) {
			m.state = domain.StateFailed
		}
		if err != nil {
			audit.Log(auditComponent, "unlock", "unlock did not complete", false, err)
			return 0, err
		}

		token, err := tokenstore.Decrypt(blob, c)
		if err != nil {
			m.state = domain.StateFailed
			metrics.UnlockFailuresTotal.WithLabelValues("decryption").Inc()
			log.Warn().Err(err).Msg("login: stored token could not be decrypted")
			audit.Log(auditComponent, "unlock", "decryption failed", false, err)
			return 0, err
		}

		result, err := m.loginWithTokenLocked(ctx, token)
		if err == nil {
			audit.Log(auditComponent, "unlock", "stored token recovered: "+result.String(), true, nil)
		}
		return result, err
	})
}

// PrepareReEnrollment unlocks a cipher for encryption while the machine waits for
// a PIN, so the token minted by the PIN login can be stored again. A declined
// prompt leaves no pending cipher; the PIN login still works.
func (m *Machine) PrepareReEnrollment(ctx context.Context) error {
	_, err := m.run(ctx, "PrepareReEnrollment", func(ctx context.Context) (domain.LoginResult, error) {
		if m.state != domain.StateRequirePin {
			return 0, bioerrors.ErrNotAwaitingPin
		}

		c, err := m.unlockLocked(ctx, capability.ModeEncrypt, nil)
		if err != nil {
			return 0, err
		}
		m.pending = c
		log.Debug().Msg("login: cipher stashed until pin login")

		return 0, nil
	})

	return err
}

// DiscardPending drops a stashed cipher without using it.
func (m *Machine) DiscardPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
}

// run holds the lock around fn, traces it and notifies observers once the lock is
// released. A zero result means nothing was emitted.
func (m *Machine) run(ctx context.Context, name string, fn func(ctx context.Context) (domain.LoginResult, error)) (domain.LoginResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "login."+name)
	defer span.End()

	m.mu.Lock()
	result, err := fn(ctx)
	state := m.state
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	span.SetAttributes(attribute.String("login.state", state.String()))
	if result != 0 {
		span.SetAttributes(attribute.String("login.result", result.String()))
		for _, o := range observers {
			o(result)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return result, err
}

func (m *Machine) loginWithTokenLocked(ctx context.Context, token domain.Token) (domain.LoginResult, error) {
	m.state = domain.StateAuthenticating

	expired, err := m.registry.IsExpired(ctx, token)
	if err != nil {
		m.state = domain.StateFailed
		metrics.LoginsTotal.WithLabelValues("token", "error").Inc()
		return 0, fmt.Errorf("failed to check token expiry: %w", err)
	}
	if expired {
		m.state = domain.StateRequirePin
		m.lastResult = domain.LoginResultRequirePin
		metrics.LoginsTotal.WithLabelValues("token", domain.LoginResultRequirePin.String()).Inc()
		log.Info().Msg("login: recovered token is expired, pin required")
		return domain.LoginResultRequirePin, nil
	}

	return m.completeLocked(ctx, "token", token)
}

// completeLocked stores token in the registry and emits Success, consuming the
// pending cipher if this Success follows a RequirePin.
func (m *Machine) completeLocked(ctx context.Context, method string, token domain.Token) (domain.LoginResult, error) {
	if err := m.registry.UpdateToken(ctx, token); err != nil {
		m.state = domain.StateFailed
		metrics.LoginsTotal.WithLabelValues(method, "error").Inc()
		return 0, fmt.Errorf("failed to update token registry: %w", err)
	}
	metrics.TokenRotationsTotal.Inc()

	recovering := m.lastResult == domain.LoginResultRequirePin
	m.state = domain.StateSuccess
	m.lastResult = domain.LoginResultSuccess
	metrics.LoginsTotal.WithLabelValues(method, domain.LoginResultSuccess.String()).Inc()
	log.Info().Str("method", method).Msg("login: session established")
	audit.Log(auditComponent, "login", "session established via "+method, true, nil)

	if !recovering || m.pending == nil {
		return domain.LoginResultSuccess, nil
	}

	c := m.pending
	m.pending = nil
	if err := m.encryptAndPersistLocked(ctx, token, c); err != nil {
		log.Error().Err(err).Msg("login: failed to store token after pin login")
		audit.Log(auditComponent, "re_enroll", "persist after pin failed", false, err)
		return domain.LoginResultSuccess, err
	}
	audit.Log(auditComponent, "re_enroll", "new token stored after pin login", true, nil)

	return domain.LoginResultSuccess, nil
}

func (m *Machine) encryptAndPersistLocked(ctx context.Context, token domain.Token, c capability.Cipher) error {
	blob, err := tokenstore.Encrypt(token, c)
	if err != nil {
		return err
	}
	if err := m.store.Persist(ctx, blob, m.dest); err != nil {
		return err
	}
	metrics.EnrollmentsTotal.Inc()

	return nil
}

// unlockLocked runs the capability prompt and turns its Result into a cipher or
// one of the capability errors.
func (m *Machine) unlockLocked(ctx context.Context, mode capability.Mode, iv []byte) (capability.Cipher, error) {
	if a := m.capability.CanAuthenticate(ctx); a != capability.Available {
		metrics.UnlockFailuresTotal.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: %s", bioerrors.ErrCapabilityUnavailable, a)
	}

	var res capability.Result
	if mode == capability.ModeEncrypt {
		res = m.capability.AuthenticateForEncryption(ctx, m.keyName)
	} else {
		res = m.capability.AuthenticateForDecryption(ctx, m.keyName, iv)
	}

	switch {
	case res.OK():
		return res.Cipher, nil
	case res.Outcome == capability.OutcomeCancelled:
		metrics.UnlockFailuresTotal.WithLabelValues("declined").Inc()
		log.Debug().Str("mode", mode.String()).Msg("login: prompt cancelled")
		return nil, bioerrors.ErrCapabilityDeclined
	case res.Err != nil:
		metrics.UnlockFailuresTotal.WithLabelValues("failed").Inc()
		if bioerrors.Is(res.Err, bioerrors.ErrKeyInvalidated) && !bioerrors.Is(res.Err, bioerrors.ErrDecryption) {
			return nil, fmt.Errorf("%w: %w", bioerrors.ErrDecryption, res.Err)
		}
		if bioerrors.Is(res.Err, bioerrors.ErrDecryption) ||
			bioerrors.Is(res.Err, bioerrors.ErrCapabilityDeclined) ||
			bioerrors.Is(res.Err, bioerrors.ErrCapabilityUnavailable) ||
			bioerrors.Is(res.Err, bioerrors.ErrCapabilityFailed) {
			return nil, res.Err
		}
		return nil, fmt.Errorf("%w: %w", bioerrors.ErrCapabilityFailed, res.Err)
	default:
		metrics.UnlockFailuresTotal.WithLabelValues("failed").Inc()
		return nil, bioerrors.ErrCapabilityFailed
	}
}
