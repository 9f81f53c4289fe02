package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pilab-dev/biolock/capability"
	"github.com/pilab-dev/biolock/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the login flow over HTTP",
		Long: `Serve the login flow over HTTP. Capability prompts are answered by the device PIN
sent in the ` + "`X-Device-Credential`" + ` header; requests without it are treated as cancelled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			prompter, err := capability.NewDeviceCredentialPrompter(
				capability.NewBcryptHasher(0), env.cfg.DevicePIN, capability.ContextCredentialReader)
			if err != nil {
				return err
			}

			app, err := server.New(ctx, env.cfg, prompter)
			if err != nil {
				return err
			}
			defer app.Close()

			srv := server.NewHTTPServer(app, env.logger, env.registry)

			errCh := make(chan error, 1)
			go func() {
				env.logger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": srv.Addr})
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			env.logger.Info(context.Background(), "shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		},
	}
}
