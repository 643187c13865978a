package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/matheus3301/chatterbox/internal/api"
	"github.com/matheus3301/chatterbox/internal/bus"
	"github.com/matheus3301/chatterbox/internal/chat"
	"github.com/matheus3301/chatterbox/internal/config"
	"github.com/matheus3301/chatterbox/internal/lock"
	"github.com/matheus3301/chatterbox/internal/logging"
	"github.com/matheus3301/chatterbox/internal/metrics"
	"github.com/matheus3301/chatterbox/internal/remote"
	"github.com/matheus3301/chatterbox/internal/session"
	"github.com/matheus3301/chatterbox/internal/status"
	"github.com/matheus3301/chatterbox/internal/tracing"
	"github.com/matheus3301/chatterbox/internal/view"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // empty = ~/.chatterbox/config.toml
	EnvPath     string // empty = ~/.chatterbox/.env
	// Config, when set, is used as is instead of resolving ConfigPath and
	// EnvPath. chatterboxd resolves it up front to apply its flags.
	Config *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideTracing,
			provideBackend,
			provideChat,
			provideSessionService,
			provideChatService,
			NewServer,
			provideViewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	cfgPath, envPath := p.ConfigPath, p.EnvPath
	if cfgPath == "" {
		cfgPath = session.ConfigPath()
	}
	if envPath == "" {
		envPath = session.EnvPath()
	}
	return config.Resolve(cfgPath, envPath)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New(bus.WithDropHook(func(bus.Event) { metrics.BusDropped() }))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideTracing(p Params, cfg *config.Config, logger *zap.Logger) (*tracing.Provider, error) {
	if !cfg.Tracing.Enabled {
		return tracing.Setup(false, nil, "chatterboxd", logger)
	}
	f, err := os.OpenFile(filepath.Join(session.LogDir(p.SessionName), "traces.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return tracing.Setup(true, f, "chatterboxd", logger)
}

// provideBackend depends on the lock so two daemons never race on the
// same session files.
func provideBackend(p Params, cfg *config.Config, b *bus.Bus, logger *zap.Logger, _ *lock.Lock) (*Backend, error) {
	return openBackend(p, cfg, b, logger)
}

func provideChat(bk *Backend, logger *zap.Logger) *chat.Service {
	return chat.NewService(remote.NewClient(bk.Store), bk.Auth, logger, time.Local)
}

func provideSessionService(p Params, bk *Backend, m *status.Machine, svc *chat.Service) *api.SessionService {
	return api.NewSessionService(p.SessionName, bk.Kind, m, svc)
}

func provideChatService(svc *chat.Service) *api.ChatService {
	return api.NewChatService(svc)
}

func provideViewServer(cfg *config.Config, svc *chat.Service, m *status.Machine, logger *zap.Logger) *view.Server {
	return view.NewServer(cfg.View.Listen, svc, m, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *Server,
	viewSrv *view.Server,
	lk *lock.Lock,
	bk *Backend,
	svc *chat.Service,
	tp *tracing.Provider,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	feedEvents, unsubscribe := b.Subscribe("feed.", 16)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go watchFeed(ctx, feedEvents, machine, svc)

			if err := bk.Feed.Start(ctx); err != nil {
				return err
			}
			if err := viewSrv.Listen(); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			go func() {
				if err := viewSrv.Serve(); err != nil {
					logger.Error("view server error", zap.Error(err))
				}
			}()

			go signIn(ctx, cfg, svc, machine, logger)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			unsubscribe()
			if err := viewSrv.Shutdown(stopCtx); err != nil {
				logger.Warn("error stopping view server", zap.Error(err))
			}
			srv.Stop(stopCtx)
			bk.Feed.Stop()
			if err := bk.Close(); err != nil {
				logger.Warn("error closing backend", zap.Error(err))
			}
			if err := tp.Shutdown(stopCtx); err != nil {
				logger.Warn("error flushing traces", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// resyncer refetches open conversations after the feed comes back.
type resyncer interface {
	Resync(ctx context.Context) int
}

// watchFeed mirrors the change feed's health into the state machine and
// resyncs open conversations whenever it recovers.
func watchFeed(ctx context.Context, events <-chan bus.Event, machine *status.Machine, rs resyncer) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			switch evt.Kind {
			case bus.KindFeedUp:
				machine.FeedChanged(true)
				rs.Resync(ctx)
			case bus.KindFeedDown:
				machine.FeedChanged(false)
			}
		}
	}
}

// signIn restores the stored session, or signs in with configured
// credentials, and moves the machine to READY. Without either it waits
// in AUTH_REQUIRED for a client to sign in.
func signIn(ctx context.Context, cfg *config.Config, svc *chat.Service, machine *status.Machine, logger *zap.Logger) {
	_ = machine.Transition(status.Connecting)

	me, err := svc.Restore(ctx)
	if errors.Is(err, remote.ErrNoSession) && cfg.Account.Email != "" {
		logger.Info("signing in with configured account", zap.String("email", cfg.Account.Email))
		me, err = svc.SignIn(ctx, cfg.Account.Email, cfg.Account.Password)
	}
	if err != nil {
		if errors.Is(err, remote.ErrNoSession) {
			logger.Info("no stored session, auth required")
		} else {
			logger.Warn("sign-in failed, auth required", zap.Error(err))
		}
		_ = machine.Transition(status.AuthRequired)
		return
	}
	if err := machine.SignedIn(); err != nil {
		logger.Error("status transition failed", zap.Error(err))
		return
	}
	logger.Info("signed in", zap.String("profile", me.ID), zap.String("username", me.Username))
}
