package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hasirciogli/pro-auth/internal/session"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			rt, err := openRuntime(cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runStatus(cmd.Context(), cmd.OutOrStdout(), rt.controller, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the session state as JSON")

	return cmd
}

func runStatus(ctx context.Context, out io.Writer, c *session.Controller, jsonOutput bool) error {
	if err := waitReady(ctx, c); err != nil {
		return err
	}

	view := c.View()

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	if view.User == nil {
		fmt.Fprintln(out, "Not logged in. Run 'proauth login' to sign in.")
		return nil
	}

	fmt.Fprintf(out, "Logged in as %s (%s)\n", view.User.Username, view.User.Email)
	fmt.Fprintf(out, "  ID:   %s\n", view.User.ID)
	fmt.Fprintf(out, "  Role: %s\n", view.User.Role)
	return nil
}
