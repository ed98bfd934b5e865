package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hasirciogli/pro-auth/internal/session"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
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

			return runLogout(cmd.Context(), cmd.OutOrStdout(), rt.controller)
		},
	}
}

func runLogout(ctx context.Context, out io.Writer, c *session.Controller) error {
	if err := waitReady(ctx, c); err != nil {
		return err
	}

	_, wasAuthenticated := session.UserOf(c.State())

	c.Logout()
	if err := c.Wait(ctx); err != nil {
		return err
	}

	if wasAuthenticated {
		fmt.Fprintln(out, "✓ Logged out")
	} else {
		fmt.Fprintln(out, "Not logged in")
	}
	return nil
}
