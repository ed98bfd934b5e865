package commands

import (
	"github.com/spf13/cobra"

	"github.com/hasirciogli/pro-auth/internal/server"
)

// NewServeCmd creates the serve command
func NewServeCmd(version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API for the web dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}

			rt, err := openRuntime(cfg, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.log.Info().
				Str("version", version).
				Str("store", cfg.Session.Store).
				Msg("Starting ProAuth console session API")

			srv := server.New(cfg, rt.controller, rt.log, version)
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (or set PROAUTH_ADDR)")

	return cmd
}
