// Package daemon composes the sync daemon: configuration, profile lock,
// preference store, realtime backend and the chat services, wired through
// fx with a lifecycle that restores the session and keeps every chat
// subscribed.
package daemon

import (
	"context"

	"github.com/matheus3301/tchat/internal/auth"
	"github.com/matheus3301/tchat/internal/bus"
	"github.com/matheus3301/tchat/internal/chat"
	"github.com/matheus3301/tchat/internal/config"
	"github.com/matheus3301/tchat/internal/lock"
	"github.com/matheus3301/tchat/internal/logging"
	"github.com/matheus3301/tchat/internal/message"
	"github.com/matheus3301/tchat/internal/prefs"
	"github.com/matheus3301/tchat/internal/presence"
	"github.com/matheus3301/tchat/internal/profile"
	"github.com/matheus3301/tchat/internal/realtime"
	"github.com/matheus3301/tchat/internal/realtime/firebase"
	"github.com/matheus3301/tchat/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			providePrefs,
			provideRealtime,
			provideAuthProvider,
			provideManager,
			provideDirectory,
			provideSync,
			provideHeartbeat,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func providePrefs(p Params, logger *zap.Logger) (*prefs.DB, error) {
	dbPath := profile.PrefsDBPath(p.ProfileName)
	db, err := prefs.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("prefs store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRealtime(cfg *config.Config, logger *zap.Logger) (realtime.Store, error) {
	return firebase.New(context.Background(), cfg.Firebase, logger)
}

func provideAuthProvider(cfg *config.Config) auth.Provider {
	return auth.NewIdentityToolkit(cfg.Firebase.APIKey)
}

func provideManager(provider auth.Provider, db *prefs.DB, rt realtime.Store, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *auth.Manager {
	return auth.NewManager(provider, db, rt, b, machine, logger)
}

func provideDirectory(mgr *auth.Manager, rt realtime.Store, b *bus.Bus, logger *zap.Logger) *chat.Directory {
	return chat.NewDirectory(mgr, rt, b, logger)
}

func provideSync(mgr *auth.Manager, rt realtime.Store, dir *chat.Directory, b *bus.Bus, logger *zap.Logger) *message.Sync {
	return message.NewSync(mgr, rt, dir, b, logger)
}

func provideHeartbeat(mgr *auth.Manager, b *bus.Bus, logger *zap.Logger) *presence.Heartbeat {
	return presence.NewHeartbeat(mgr, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *prefs.DB, mgr *auth.Manager, dir *chat.Directory, syncer *message.Sync, hb *presence.Heartbeat, b *bus.Bus, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribe before the state check so the restore's signed_in
			// event is not missed.
			events, unsubscribe := b.Subscribe("", 64)
			go watch(ctx, events, unsubscribe, dir, syncer, hb, logger)

			go mgr.CheckAuthState(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			hb.Stop()
			syncer.Reset()
			if err := db.Close(); err != nil {
				logger.Warn("error closing prefs store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// watch drives the daemon off bus events: a sign-in loads the directory and
// subscribes every chat, a sign-out tears the listeners down, and freshly
// created chats get a listener immediately.
func watch(ctx context.Context, events <-chan bus.Event, unsubscribe func(), dir *chat.Directory, syncer *message.Sync, hb *presence.Heartbeat, logger *zap.Logger) {
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			switch evt.Kind {
			case "auth.signed_in":
				if err := dir.Load(ctx); err != nil {
					logger.Error("chat directory load failed", zap.Error(err))
					continue
				}
				for _, v := range dir.Chats() {
					if err := syncer.Subscribe(ctx, v.ID); err != nil {
						logger.Error("subscribe failed", zap.String("chat_id", v.ID), zap.Error(err))
					}
				}
				hb.Start(ctx)
			case "auth.signed_out":
				hb.Stop()
				syncer.Reset()
			case "chat.created":
				id, ok := evt.Payload.(string)
				if !ok {
					continue
				}
				if err := syncer.Subscribe(ctx, id); err != nil {
					logger.Error("subscribe failed", zap.String("chat_id", id), zap.Error(err))
				}
			}
		}
	}
}
