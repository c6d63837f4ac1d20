package controlplane

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/sandchest/control/pkg/api"
	"github.com/sandchest/control/pkg/config"
	"github.com/sandchest/control/pkg/coordination"
	"github.com/sandchest/control/pkg/events"
	"github.com/sandchest/control/pkg/leader"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/nodeclient"
	"github.com/sandchest/control/pkg/nodes"
	"github.com/sandchest/control/pkg/objectstore"
	"github.com/sandchest/control/pkg/policy"
	"github.com/sandchest/control/pkg/quota"
	"github.com/sandchest/control/pkg/ratelimit"
	"github.com/sandchest/control/pkg/slots"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/worker"
)

// ControlPlane wires the whole orchestration subsystem together: the
// relational store, the NATS coordination and object layers, the node
// registry, the policy worker scheduler, and the admin HTTP server.
type ControlPlane struct {
	cfg        *config.Config
	instanceID string

	store     *storage.BoltStore
	nc        *nats.Conn
	coord     coordination.Store
	objects   objectstore.ObjectStorage
	broker    *events.Broker
	registry  *nodes.Registry
	locks     *leader.Locks
	scheduler *worker.Scheduler
	server    *api.Server

	ready atomic.Bool
}

// New assembles a control plane from configuration. Nothing is started
// yet; call Start.
func New(cfg *config.Config) (*ControlPlane, error) {
	instanceID := uuid.New().String()

	store, err := storage.NewBoltStore(cfg.Data.Dir)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("sandchest-control-"+instanceID),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	coord, err := coordination.NewKVStore(context.Background(), nc, cfg.NATS.CoordinationBucket)
	if err != nil {
		nc.Close()
		store.Close()
		return nil, fmt.Errorf("open coordination bucket: %w", err)
	}

	objects, err := objectstore.NewNATSObjectStore(context.Background(), nc, cfg.NATS.ObjectBucket)
	if err != nil {
		nc.Close()
		store.Close()
		return nil, fmt.Errorf("open object bucket: %w", err)
	}

	broker := events.NewBroker(nc)
	registry := nodes.NewRegistry(store)
	locks := leader.NewLocks(coord)
	quotas := quota.NewResolver(store)
	slotMgr := slots.NewManager(coord)

	scheduler := worker.NewScheduler(instanceID, locks)
	scheduler.Register(policy.All(policy.Deps{
		Store:      store,
		Nodes:      registry,
		NodeClient: nodeclient.NewNATSClient(nc),
		Objects:    objects,
		Quotas:     quotas,
		Coord:      coord,
		Slots:      slotMgr,
		Recorder:   broker,
	})...)

	cp := &ControlPlane{
		cfg:        cfg,
		instanceID: instanceID,
		store:      store,
		nc:         nc,
		coord:      coord,
		objects:    objects,
		broker:     broker,
		registry:   registry,
		locks:      locks,
		scheduler:  scheduler,
	}
	cp.server = api.NewServer(cfg.Server.Address, store, locks, registry, cp.ready.Load)
	return cp, nil
}

// Limiter returns a rate limiter bound to this control plane's
// coordination store, for embedding API frontends.
func (cp *ControlPlane) Limiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(cp.coord)
}

// Start brings the control plane up: event broker, heartbeat intake,
// policy workers, then the admin listener. It blocks until the listener
// exits.
func (cp *ControlPlane) Start() error {
	logger := log.WithComponent("controlplane")
	logger.Info().Str("instance_id", cp.instanceID).Msg("starting control plane")

	cp.broker.Start()
	if err := cp.registry.Subscribe(cp.nc); err != nil {
		return fmt.Errorf("subscribe heartbeats: %w", err)
	}
	cp.scheduler.Start()
	cp.ready.Store(true)

	return cp.server.Start()
}

// Stop shuts the control plane down in reverse order of Start: stop
// admitting, drain workers, then close the stores.
func (cp *ControlPlane) Stop(ctx context.Context) {
	logger := log.WithComponent("controlplane")
	cp.ready.Store(false)

	if err := cp.server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("admin server shutdown")
	}
	cp.scheduler.Stop()
	cp.registry.Stop()
	cp.broker.Stop()
	cp.nc.Close()
	if err := cp.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("state store close")
	}
	logger.Info().Msg("control plane stopped")
}
