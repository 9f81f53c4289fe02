package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pilab-dev/biolock/capability"
	"github.com/pilab-dev/biolock/config"
	"github.com/pilab-dev/biolock/domain"
	"github.com/pilab-dev/biolock/internal/server"
	"github.com/pilab-dev/biolock/storage"
	"github.com/spf13/cobra"
)

// scriptedPrompter answers prompts with whatever outcome the script set last.
type scriptedPrompter struct {
	mu      sync.Mutex
	outcome capability.Outcome
}

func (p *scriptedPrompter) set(o capability.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcome = o
}

func (p *scriptedPrompter) Prompt(ctx context.Context, _ capability.PromptInfo) (capability.Outcome, error) {
	if ctx.Err() != nil {
		return capability.OutcomeCancelled, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome, nil
}

func newDemoCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the scripted login scenario against in-memory storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *env.cfg
			cfg.StorageBackend = storage.BackendMemory
			cfg.RegistryBackend = config.RegistryMemory

			return runDemo(cmd.Context(), &cfg, cmd.OutOrStdout())
		},
	}
}

func runDemo(ctx context.Context, cfg *config.Config, out io.Writer) error {
	prompter := &scriptedPrompter{outcome: capability.OutcomeOK}
	app, err := server.New(ctx, cfg, prompter)
	if err != nil {
		return err
	}
	defer app.Close()

	m := app.Machine
	step := 0
	show := func(title string, result domain.LoginResult, err error) {
		step++
		printf(out, "%2d. %-48s state=%-14s", step, title, m.State())
		if result != 0 {
			printf(out, " result=%s", result)
		}
		if err != nil {
			printf(out, " error=%q", err.Error())
		}
		printf(out, "\n")
	}

	state := m.EvaluateForm("", "")
	show(fmt.Sprintf("evaluate empty form (%s)", describeForm(state)), 0, nil)

	state = m.EvaluateForm("alice", "secret")
	show(fmt.Sprintf("evaluate filled form (%s)", describeForm(state)), 0, nil)

	result, err := m.LoginWithPassword(ctx, "alice", "secret")
	show("log in with password", result, err)
	if err != nil {
		return err
	}

	err = m.EnableBiometricLogin(ctx)
	show("enable biometric login", 0, err)
	if err != nil {
		return err
	}

	result, err = m.UnlockWithBiometrics(ctx)
	show("unlock with biometrics", result, err)

	prompter.set(capability.OutcomeCancelled)
	result, err = m.UnlockWithBiometrics(ctx)
	show("unlock, prompt cancelled", result, err)
	prompter.set(capability.OutcomeOK)

	result, err = m.LoginWithPassword(ctx, "alice", "secret")
	show("log in with password again (token rotated)", result, err)

	result, err = m.UnlockWithBiometrics(ctx)
	show("unlock the superseded token", result, err)

	err = m.PrepareReEnrollment(ctx)
	show("unlock a cipher for re-enrollment", 0, err)

	result, err = m.LoginWithPin(ctx, "12345")
	show("log in with PIN, store the new token", result, err)

	result, err = m.UnlockWithBiometrics(ctx)
	show("unlock the re-enrolled token", result, err)

	err = app.Keystore.InvalidateKey(ctx, cfg.KeyName)
	show("biometric enrollment changed (key invalidated)", 0, err)

	result, err = m.UnlockWithBiometrics(ctx)
	show("unlock with the invalidated key", result, err)

	err = m.DisableBiometricLogin(ctx)
	show("forget the stored token", 0, err)

	result, err = m.UnlockWithBiometrics(ctx)
	show("unlock without a stored token", result, err)

	return nil
}

func describeForm(state domain.LoginFormState) string {
	switch s := state.(type) {
	case domain.FailedLoginFormState:
		return fmt.Sprintf("errors=%v", s.Codes())
	case domain.SuccessfulLoginFormState:
		return "valid"
	default:
		return "unknown"
	}
}
