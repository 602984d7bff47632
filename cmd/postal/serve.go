package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/postal/internal/admin"
	"github.com/danmuck/postal/internal/config"
	"github.com/danmuck/postal/internal/kvstore"
	"github.com/danmuck/postal/internal/observability"
	"github.com/danmuck/postal/internal/protocol/codec"
	"github.com/danmuck/postal/internal/protocol/schema"
	"github.com/danmuck/postal/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a contract over TCP",
		Long: `serve listens for framed requests. Without an idl setting it serves the
built-in key/value contract; with one, every request kind answers with its
declared response defaults.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("config", "", "server config file (TOML)")
	cmd.Flags().String("listen", "", "override the protocol listen address")
	cmd.Flags().String("idl", "", "override the IDL file to serve")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := serverConfig(cmd)
	if err != nil {
		return err
	}
	logger := observability.InitLogger("postal")
	observability.RegisterMetrics()

	srv, err := buildServer(cmd, cfg, logger)
	if err != nil {
		return err
	}
	reg := srv.Registry()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := session.Listen(cfg.Listen, cfg.Transport)
	if err != nil {
		return err
	}
	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("namespace", reg.Namespace()).
		Str("unit", reg.Unit()).
		Str("fingerprint", reg.FingerprintHex()).
		Msg("serving")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, ln) })
	if cfg.Admin.Listen != "" {
		h := admin.NewHandler(admin.Deps{
			Registry: reg,
			Token:    cfg.Admin.Token,
			Logger:   observability.Component(logger, "admin"),
		})
		g.Go(func() error { return admin.ListenAndServe(gctx, cfg.Admin.Listen, h) })
		logger.Info().Str("addr", cfg.Admin.Listen).Msg("admin listening")
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}

func serverConfig(cmd *cobra.Command) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadServerConfig(path)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	} else if cmd.Root().PersistentFlags().Changed("unit") {
		cfg.Unit = unitFlag(cmd)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	if path, _ := cmd.Flags().GetString("idl"); path != "" {
		cfg.IDLPath = path
	}
	return cfg, config.ValidateServerConfig(cfg)
}

// buildServer compiles the configured contract and registers its handlers.
func buildServer(cmd *cobra.Command, cfg config.ServerConfig, logger zerolog.Logger) (*session.Server, error) {
	_, reg, err := compile(cfg.IDLPath, cfg.Unit)
	if err != nil {
		return nil, report(cmd, cfg.IDLPath, err)
	}
	srv := session.NewServer(reg,
		session.WithServerLimits(cfg.Transport.Limits),
		session.WithServerLogger(observability.Component(logger, "session.server")),
		session.WithTimeouts(cfg.Transport.ReadTimeout, cfg.Transport.WriteTimeout),
	)

	if cfg.IDLPath == "" {
		svc := kvstore.NewService(kvstore.NewStore(), observability.Component(logger, "kvstore"))
		if err := svc.Register(srv); err != nil {
			return nil, err
		}
		return srv, nil
	}
	for _, m := range reg.Messages() {
		if m.Request == nil {
			continue
		}
		if err := srv.Handle(m.Name, stubHandler(m)); err != nil {
			return nil, err
		}
	}
	return srv, srv.CheckHandlers()
}

// stubHandler answers with the response defaults declared in the contract.
func stubHandler(m *schema.MessageShape) session.Handler {
	return func(context.Context, codec.Values) (codec.Values, error) {
		if m.Response == nil {
			return nil, nil
		}
		return codec.ApplyDefaults(m.Response, nil)
	}
}
