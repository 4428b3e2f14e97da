package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/guildgate/guildgate/internal/blacklist"
	"github.com/guildgate/guildgate/internal/channel/adapters/discord"
	"github.com/guildgate/guildgate/internal/config"
	dbpkg "github.com/guildgate/guildgate/internal/db"
	"github.com/guildgate/guildgate/internal/handlers"
	"github.com/guildgate/guildgate/internal/identity"
	"github.com/guildgate/guildgate/internal/metrics"
	"github.com/guildgate/guildgate/internal/profile"
	"github.com/guildgate/guildgate/internal/review"
	"github.com/guildgate/guildgate/internal/router"
	"github.com/guildgate/guildgate/internal/schedule"
	"github.com/guildgate/guildgate/internal/sections"
	"github.com/guildgate/guildgate/internal/server"
	"github.com/guildgate/guildgate/internal/verification"
	"github.com/guildgate/guildgate/internal/version"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
				return errors.New("auth.jwt_secret is required")
			}
			if migrateFirst {
				if err := runMigrations(log, cfg.Postgres, "up", nil); err != nil {
					return err
				}
			}
			log.Info("starting guildgate", slog.String("version", version.GetInfo()))
			app := newApp(cfg, log)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending migrations before starting")
	return cmd
}

func newApp(cfg config.Config, log *slog.Logger) *fx.App {
	return fx.New(
		fx.Supply(cfg, log),
		fx.Provide(
			provideRegistry,
			provideMetrics,
			provideDBConn,
			provideSections,
			provideIdentity,
			provideBlacklist,
			provideProfiles,
			provideGateway,
			provideReviewQueue,
			provideVerification,
			provideRouter,
			provideScheduler,

			provideServerHandler(providePingHandler),
			provideServerHandler(handlers.NewBlacklistHandler),
			provideServerHandler(handlers.NewIdentityHandler),
			provideServerHandler(handlers.NewReviewHandler),
			provideServerHandler(handlers.NewJobHandler),
			provideServer,
		),
		fx.Invoke(
			startScheduler,
			startGateway,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := dbpkg.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

func provideSections(cfg config.Config) sections.Store {
	return sections.NewStaticStore(cfg)
}

func provideIdentity(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config) *identity.Service {
	return identity.NewService(log, identity.NewPostgresStore(pool), cfg.Verification.MaxAlternates)
}

func provideBlacklist(log *slog.Logger, pool *pgxpool.Pool) *blacklist.Service {
	return blacklist.NewService(log, blacklist.NewPostgresStore(pool))
}

func provideProfiles(log *slog.Logger, cfg config.Config) (profile.Fetcher, error) {
	return profile.NewClient(log, cfg.Profile)
}

func provideGateway(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*discord.Gateway, error) {
	gw, err := discord.New(log, cfg.Discord.BotToken)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return gw.Close()
		},
	})
	return gw, nil
}

func provideReviewQueue(log *slog.Logger, pool *pgxpool.Pool, gw *discord.Gateway, secs sections.Store, ids *identity.Service, m *metrics.Metrics) *review.Queue {
	return review.NewQueue(log, review.NewPostgresStore(pool), gw, secs, ids, m)
}

func provideVerification(log *slog.Logger, cfg config.Config, gw *discord.Gateway, profiles profile.Fetcher, ids *identity.Service, bl *blacklist.Service, queue *review.Queue, secs sections.Store, m *metrics.Metrics) (*verification.Service, error) {
	return verification.NewService(log, verification.Deps{
		Gateway:   gw,
		Profiles:  profiles,
		Identity:  ids,
		Blacklist: bl,
		Reviews:   queue,
		Sections:  secs,
		Metrics:   m,
	}, cfg.Verification)
}

func provideRouter(log *slog.Logger, cfg config.Config, svc *verification.Service, queue *review.Queue, secs sections.Store) *router.Router {
	return router.New(log, svc, queue, secs, cfg.Discord)
}

func provideScheduler(log *slog.Logger) *schedule.Service {
	return schedule.NewService(log)
}

func providePingHandler(log *slog.Logger, pool *pgxpool.Pool) *handlers.PingHandler {
	return handlers.NewPingHandler(log, pool)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	Registry       *prometheus.Registry
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.Registry, params.ServerHandlers...)
}

func startScheduler(lc fx.Lifecycle, cfg config.Config, sched *schedule.Service, queue *review.Queue) error {
	if err := sched.RegisterReviewSweep(cfg.Review, queue); err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sched.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
	return nil
}

func startGateway(lc fx.Lifecycle, gw *discord.Gateway, r *router.Router, svc *verification.Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			r.Start(context.Background())
			return gw.Open(context.Background(), r)
		},
		OnStop: func(context.Context) error {
			r.Stop()
			svc.Wait()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
