package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hasirciogli/pro-auth/internal/session"
)

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the ProAuth console",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, pass, err := resolveCredentials(cmd.OutOrStdout(), username, password)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			rt, err := openRuntime(cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runLogin(cmd.Context(), cmd.OutOrStdout(), rt.controller, user, pass)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username (or set PROAUTH_USERNAME)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set PROAUTH_PASSWORD, will prompt if not provided)")

	return cmd
}

// resolveCredentials applies environment fallbacks and prompts for a
// missing password on an interactive terminal
func resolveCredentials(out io.Writer, username, password string) (string, string, error) {
	// Check for environment variables (useful for CI/CD)
	if username == "" {
		username = os.Getenv("PROAUTH_USERNAME")
	}
	if password == "" {
		password = os.Getenv("PROAUTH_PASSWORD")
	}

	if username == "" {
		return "", "", fmt.Errorf("username is required (use --username flag or PROAUTH_USERNAME env var)")
	}

	if password == "" {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", "", fmt.Errorf("password is required in non-interactive mode (use --password flag or PROAUTH_PASSWORD env var)")
		}

		fmt.Fprint(out, "Password: ")
		bytePassword, err := term.ReadPassword(fd)
		if err != nil {
			return "", "", fmt.Errorf("failed to read password: %w", err)
		}
		password = string(bytePassword)
		fmt.Fprintln(out) // New line after password input
	}

	return username, password, nil
}

func runLogin(ctx context.Context, out io.Writer, c *session.Controller, username, password string) error {
	// The form is not offered until any previous session has been restored
	if err := waitReady(ctx, c); err != nil {
		return err
	}

	fmt.Fprintf(out, "Logging in as %s...\n", username)

	c.Login(username, password)
	if err := c.Wait(ctx); err != nil {
		return err
	}

	switch st := c.State().(type) {
	case session.Authenticated:
		fmt.Fprintln(out, "✓ Login successful!")
		fmt.Fprintf(out, "  User: %s (%s)\n", st.User.Username, st.User.Email)
		if st.User.IsAdmin() {
			fmt.Fprintln(out, "  Role: Admin")
		}
		return nil
	case session.Failed:
		return fmt.Errorf("login failed: %s", st.Message)
	default:
		return fmt.Errorf("login did not complete (state %s)", st.Phase())
	}
}
