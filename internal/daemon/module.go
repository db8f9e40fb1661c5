package daemon

import (
	"context"
	"io"

	"github.com/matheus3301/smsq/internal/advisory"
	"github.com/matheus3301/smsq/internal/api"
	"github.com/matheus3301/smsq/internal/bus"
	"github.com/matheus3301/smsq/internal/config"
	"github.com/matheus3301/smsq/internal/contacts"
	"github.com/matheus3301/smsq/internal/lock"
	"github.com/matheus3301/smsq/internal/logging"
	"github.com/matheus3301/smsq/internal/network"
	"github.com/matheus3301/smsq/internal/outbox"
	"github.com/matheus3301/smsq/internal/remote"
	"github.com/matheus3301/smsq/internal/session"
	"github.com/matheus3301/smsq/internal/store"
	intsync "github.com/matheus3301/smsq/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Debug      bool
}

// Identity is the user whose data the daemon serves.
type Identity struct {
	UserID string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideProfile,
			provideIdentity,
			provideBus,
			provideNetwork,
			provideMonitor,
			provideAdvisory,
			provideLock,
			provideStore,
			provideRemote,
			provideReconciler,
			provideSyncEngine,
			provideComposer,
			provideContacts,
			provideBatchSender,
			provideSender,
			provideControlService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile, p.Debug)
}

func provideProfile(p Params) (*config.Profile, error) {
	prof, err := config.LoadProfile(session.ProfilePath(p.Profile))
	if err != nil {
		return nil, err
	}
	if err := prof.ApplyEnv(session.EnvPath(p.Profile)); err != nil {
		return nil, err
	}
	return prof, nil
}

func provideIdentity(prof *config.Profile, logger *zap.Logger) (Identity, error) {
	userID, err := session.UserID(prof.UserID, prof.Token)
	if err != nil {
		return Identity{}, err
	}
	logger.Info("serving user", zap.String("user_id", userID))
	return Identity{UserID: userID}, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideNetwork(b *bus.Bus) *network.Machine {
	return network.NewMachine(b)
}

func provideMonitor(m *network.Machine, prof *config.Profile, logger *zap.Logger) (*network.Monitor, error) {
	prober, err := network.NewTCPProber(prof.APIBaseURL, prof.RequestTimeout.Duration)
	if err != nil {
		return nil, err
	}
	return network.NewMonitor(m, prober, prof.ProbeInterval.Duration, logger), nil
}

func provideAdvisory(b *bus.Bus) *advisory.Advisory {
	return advisory.New(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the store is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Initialize()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemote(prof *config.Profile) *remote.HTTPClient {
	return remote.NewHTTPClient(
		remote.WithBaseURL(prof.APIBaseURL),
		remote.WithToken(prof.Token),
		remote.WithTimeout(prof.RequestTimeout.Duration),
	)
}

func provideReconciler(db *store.DB, client *remote.HTTPClient, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, client, logger.Named("sync"))
}

func provideSyncEngine(r *intsync.Reconciler, id Identity, b *bus.Bus, adv *advisory.Advisory, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(r, id.UserID, b, adv, logger.Named("sync"))
}

func provideComposer(db *store.DB, m *network.Machine, adv *advisory.Advisory, b *bus.Bus, logger *zap.Logger) *outbox.Composer {
	return outbox.NewComposer(db, m, adv, b, logger.Named("outbox"))
}

func provideContacts(db *store.DB, client *remote.HTTPClient, m *network.Machine, adv *advisory.Advisory, logger *zap.Logger) *contacts.Service {
	return contacts.NewService(db, client, m, adv, logger.Named("contacts"))
}

func provideBatchSender(prof *config.Profile, client *remote.HTTPClient, logger *zap.Logger) (outbox.BatchSender, error) {
	if prof.Sender != config.SenderAMQP {
		return client, nil
	}
	pub, err := outbox.NewAMQPPublisher(prof.AMQPURL, prof.AMQPQueue, logger.Named("outbox"))
	if err != nil {
		return nil, err
	}
	logger.Info("publishing batches to broker", zap.String("queue", prof.AMQPQueue))
	return pub, nil
}

func provideSender(db *store.DB, id Identity, bs outbox.BatchSender, m *network.Machine, b *bus.Bus, prof *config.Profile, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, id.UserID, bs, m, b, logger.Named("outbox"), prof.DrainInterval.Duration)
}

func provideControlService(p Params, id Identity, m *network.Machine, adv *advisory.Advisory, db *store.DB, r *intsync.Reconciler, c *outbox.Composer, cs *contacts.Service) api.ControlServer {
	return api.NewControlService(p.Profile, id.UserID, m, adv, db, r, c, cs)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, monitor *network.Monitor, engine *intsync.Engine, sender *outbox.Sender, bs outbox.BatchSender, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Engine must subscribe before the monitor's first probe.
			engine.Start(context.Background())
			monitor.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			sender.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			monitor.Stop()
			engine.Stop()
			srv.Stop(ctx)
			if c, ok := bs.(io.Closer); ok {
				if err := c.Close(); err != nil {
					logger.Warn("error closing batch sender", zap.Error(err))
				}
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
