package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"visiond/internal/backend"
)

func newSetupCmd() *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision weights, start the backend and load the model once",
		Long: "Runs the same setup sequence as serve (download, launch, readiness, load)\n" +
			"and prints the setup report. The backend is stopped afterwards unless --keep is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := configAndLogger(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := backend.Setup(ctx, backend.FromConfig(cfg, log), backend.Deps{})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(h.Report().Logs, "\n"))
			if keep {
				fmt.Fprintf(cmd.OutOrStdout(), "backend left running (pid %d)\n", h.PID())
				return nil
			}
			return h.Close(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "Leave the backend running after setup")
	return cmd
}
