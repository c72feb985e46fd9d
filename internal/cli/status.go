package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/llm"
	"github.com/soyeahso/parley/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show parley status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "parley %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(w, "Config:   %s\n", paths.Config)
			fmt.Fprintf(w, "Data:     %s\n", paths.Data)
			fmt.Fprintf(w, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(w)

			if _, err := os.Stat(paths.Config); errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(w, "Config:   not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(w, "Config:   error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(w, "Gateway:  port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)

			dbPath := cfg.Session.Path
			if dbPath == "" {
				dbPath = paths.Database()
			}
			if cfg.Session.Store == "memory" {
				dbPath = "-"
			}
			fmt.Fprintf(w, "Session:  store=%s scope=%s serialize=%v path=%s\n",
				cfg.Session.Store, cfg.Session.Scope, cfg.Session.Serialize, dbPath)

			registry := llm.NewRegistryFromConfig(cfg.Backend, log)
			model := cfg.Backend.Model
			if model == "" {
				model = "(backend default)"
			}
			fmt.Fprintf(w, "Backend:  provider=%s model=%s\n", cfg.Backend.Provider, model)
			fmt.Fprintf(w, "          available: %s\n", strings.Join(registry.List(), ", "))
			if len(cfg.Backend.Fallbacks) > 0 {
				fmt.Fprintf(w, "          fallbacks: %s\n", strings.Join(cfg.Backend.Fallbacks, ", "))
			}

			if irc := cfg.Channels.IRC; irc != nil {
				fmt.Fprintf(w, "IRC:      server=%s nick=%s channels=%s tls=%v\n",
					irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
			} else {
				fmt.Fprintln(w, "IRC:      (not configured)")
			}
			if mx := cfg.Channels.Matrix; mx != nil {
				fmt.Fprintf(w, "Matrix:   homeserver=%s user=%s rooms=%d\n",
					mx.Homeserver, mx.UserID, len(mx.AllowedRooms))
			} else {
				fmt.Fprintln(w, "Matrix:   (not configured)")
			}

			hookCount := 0
			for _, entries := range cfg.Hooks {
				hookCount += len(entries)
			}
			fmt.Fprintf(w, "Hooks:    %d\n", hookCount)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(w, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(w, "  - %s\n", issue)
				}
			}

			return nil
		},
	}
}
