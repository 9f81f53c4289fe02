package cmd

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/pilab-dev/biolock/domain"
	bioerrors "github.com/pilab-dev/biolock/errors"
	"github.com/pilab-dev/biolock/internal/server"
	"github.com/pilab-dev/biolock/registry"
	"github.com/spf13/cobra"
)

const shellHelp = `commands:
  password   log in with username and password
  pin        log in with a PIN
  enable     store the session token behind biometrics
  unlock     log in with the stored token
  prepare    unlock a cipher so the next PIN login re-enrolls
  discard    drop the cipher unlocked by prepare
  forget     remove the stored token
  status     show the login state
  help       show this help
  quit       leave the shell
`

func newShellCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Walk through the login flow interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t := newTerminal(cmd.InOrStdin(), cmd.OutOrStdout())
			prompter, err := newTerminalPrompter(t, env.cfg.DevicePIN)
			if err != nil {
				return err
			}

			app, err := server.New(ctx, env.cfg, prompter)
			if err != nil {
				return err
			}
			defer app.Close()

			return runShell(ctx, app, t)
		},
	}
}

func runShell(ctx context.Context, app *server.App, t *terminal) error {
	m := app.Machine
	m.Observe(func(r domain.LoginResult) {
		printf(t.out, "-> %s\n", r)
	})

	if stored, err := m.HasStoredToken(ctx); err == nil && stored {
		printf(t.out, "A stored token was found, type 'unlock' to use it.\n")
	}
	printf(t.out, "%s", shellHelp)

	for {
		line, err := t.readLine("biolock> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "help":
			printf(t.out, "%s", shellHelp)
		case "password":
			err = shellPassword(ctx, app, t)
		case "pin":
			var pin string
			pin, err = t.readSecret("PIN: ")
			if err == nil {
				_, err = m.LoginWithPin(ctx, pin)
			}
		case "enable":
			err = m.EnableBiometricLogin(ctx)
			if err == nil {
				printf(t.out, "Biometric login enabled.\n")
			}
		case "unlock":
			_, err = m.UnlockWithBiometrics(ctx)
			if err == nil && m.State() == domain.StateRequirePin {
				printf(t.out, "The stored token is no longer accepted. Type 'prepare' to re-enroll, then 'pin'.\n")
			}
		case "prepare":
			err = m.PrepareReEnrollment(ctx)
			if err == nil {
				printf(t.out, "Cipher ready, the next PIN login stores the new token.\n")
			}
		case "discard":
			m.DiscardPending()
		case "forget":
			err = m.DisableBiometricLogin(ctx)
			if err == nil {
				printf(t.out, "Stored token removed.\n")
			}
		case "status":
			err = shellStatus(ctx, app, t)
		default:
			printf(t.out, "unknown command %q, type 'help'\n", line)
		}

		if err != nil {
			printf(t.out, "error: %s\n", describeError(err))
		}
	}
}

func shellPassword(ctx context.Context, app *server.App, t *terminal) error {
	username, err := t.readLine("Username: ")
	if err != nil {
		return err
	}
	password, err := t.readSecret("Password: ")
	if err != nil {
		return err
	}

	_, err = app.Machine.LoginWithPassword(ctx, username, password)

	return err
}

func shellStatus(ctx context.Context, app *server.App, t *terminal) error {
	m := app.Machine

	printf(t.out, "state:          %s\n", m.State())
	if r := m.LastResult(); r != 0 {
		printf(t.out, "last result:    %s\n", r)
	}

	token, ok, err := m.CurrentToken(ctx)
	if err != nil {
		return err
	}
	if ok {
		printf(t.out, "session:        %s\n", registry.HashToken(token)[:12])
	} else {
		printf(t.out, "session:        none\n")
	}

	stored, err := m.HasStoredToken(ctx)
	if err != nil {
		return err
	}
	printf(t.out, "stored token:   %t\n", stored)
	printf(t.out, "pending cipher: %t\n", m.HasPendingCipher())
	printf(t.out, "biometrics:     %t\n", m.BiometricsAvailable(ctx))

	return nil
}

func describeError(err error) string {
	var verr *bioerrors.ValidationError
	switch {
	case errors.As(err, &verr):
		return err.Error()
	case errors.Is(err, bioerrors.ErrCapabilityDeclined):
		return "authentication declined, use your password or PIN instead"
	case errors.Is(err, bioerrors.ErrNoStoredToken):
		return "no stored token, log in and type 'enable' first"
	case errors.Is(err, bioerrors.ErrDecryption):
		return "the stored token can no longer be decrypted, log in and enable biometrics again"
	default:
		return err.Error()
	}
}
