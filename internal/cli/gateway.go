package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/parley/internal/agent"
	"github.com/soyeahso/parley/internal/channel"
	"github.com/soyeahso/parley/internal/channel/irc"
	"github.com/soyeahso/parley/internal/channel/matrix"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/dedupe"
	"github.com/soyeahso/parley/internal/gateway"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/routing"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	dedupeTTL  = 10 * time.Minute
	dedupeSize = 10000
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the parley gateway server",
	}

	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway server and connect the configured channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			runLog, closer, err := logging.Open(logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer closer.Close()
			log = runLog

			if issues := config.Validate(&cfg); len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runGateway(ctx, cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}

// runGateway wires the chat stack to the channels and the gateway server
// and runs until ctx is cancelled.
func runGateway(ctx context.Context, cfg config.Config) error {
	rt, err := newStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	hookMgr := hooks.NewManager(log)
	if n := hooks.RegisterShellHooks(hookMgr, cfg.Hooks); n > 0 {
		log.Info().Int("hooks", n).Msg("shell hooks registered")
	}

	channels, toolNotices, err := buildChannels(cfg)
	if err != nil {
		return err
	}

	var locks *agent.KeyedLocker
	if cfg.Session.Serialize {
		locks = agent.NewKeyedLocker()
	}
	router := routing.NewRouter(channels, rt.orch, routing.Options{
		Scope:         cfg.Session.Scope,
		CommandPrefix: cfg.Channels.CommandPrefix,
		ToolNotices:   toolNotices,
		Dedupe:        dedupe.New(dedupeTTL, dedupeSize),
		Locks:         locks,
		Hooks:         hookMgr,
	}, log)

	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		log.Warn().Err(err).Msg("raw config unavailable, config.get will be empty")
		raw = make(map[string]any)
	}

	srv := gateway.New(cfg, log,
		gateway.WithConfigRaw(raw),
		gateway.WithConfigFile(paths.Config),
		gateway.WithChannels(channels),
		gateway.WithHooks(hookMgr),
		gateway.WithAssistant(rt.orch),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if channels.Count() > 0 {
		router.Wire(gctx)
		log.Info().
			Int("channels", channels.Count()).
			Str("scope", cfg.Session.Scope).
			Msg("message routing active")
		g.Go(func() error {
			return channels.Run(gctx)
		})
	}

	err = g.Wait()
	channels.StopAll(context.WithoutCancel(ctx))
	router.Wait()
	hookMgr.Wait()
	return err
}

// buildChannels registers every configured channel and collects which of
// them announce tool calls.
func buildChannels(cfg config.Config) (*channel.Registry, map[string]bool, error) {
	channels := channel.NewRegistry(log)
	toolNotices := make(map[string]bool)

	if cfg.Channels.IRC != nil {
		ch := irc.New(*cfg.Channels.IRC, log)
		channels.Register(ch)
		toolNotices[ch.ID()] = cfg.Channels.IRC.ToolNotices
	}
	if cfg.Channels.Matrix != nil {
		ch, err := matrix.New(*cfg.Channels.Matrix, log)
		if err != nil {
			return nil, nil, err
		}
		channels.Register(ch)
		toolNotices[ch.ID()] = cfg.Channels.Matrix.ToolNotices
	}
	return channels, toolNotices, nil
}
