package cmd

import (
	"github.com/pilab-dev/biolock/capability"
	"github.com/pilab-dev/biolock/internal/server"
	"github.com/spf13/cobra"
)

func newForgetCmd(env *cliEnv) *cobra.Command {
	var invalidate bool

	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Remove the stored token",
		Long:  "Remove the encrypted token from storage. With --invalidate the capability key is invalidated too, as after a biometric enrollment change.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Nothing here prompts.
			app, err := server.New(ctx, env.cfg, capability.StaticPrompter(capability.OutcomeCancelled))
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Machine.DisableBiometricLogin(ctx); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Stored token removed.\n")

			if invalidate {
				if err := app.Keystore.InvalidateKey(ctx, env.cfg.KeyName); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "Key %q invalidated.\n", env.cfg.KeyName)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&invalidate, "invalidate", false, "also invalidate the capability key")

	return cmd
}
