// Package node assembles a grid node from a common.GridConfig and serves
// its admin HTTP API.
//
// A node owns the store tiers, the persistence manager, the in-memory
// container, the notifier, the read-through loader and the cache. Raft
// tiers additionally need a Dragonboat NodeHost, which is only created if
// such a tier is configured.
//
// Usage Example:
//
//	n, err := node.New(config)
//	if err != nil {
//	    // Handle error
//	}
//	defer n.Close()
//	err = n.Serve(ctx) // blocks until ctx is done
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ValentinKolb/dGrid/lib/cache"
	"github.com/ValentinKolb/dGrid/lib/common"
	"github.com/ValentinKolb/dGrid/lib/grid/container"
	"github.com/ValentinKolb/dGrid/lib/loader"
	"github.com/ValentinKolb/dGrid/lib/notify"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	"github.com/ValentinKolb/dGrid/lib/persistence/memstore"
	"github.com/ValentinKolb/dGrid/lib/persistence/raftstore"
	"github.com/ValentinKolb/dGrid/lib/persistence/redisstore"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("node")

const shutdownTimeout = 10 * time.Second

// Node is a single grid node.
type Node struct {
	config      common.GridConfig
	nodeHost    *dragonboat.NodeHost
	container   *container.Container
	persistence *persistence.Manager
	notifier    *notify.Notifier
	loader      *loader.Loader
	cache       *cache.Cache
}

// New creates all components of a node. Raft tiers are started and joined
// to the configured cluster.
func New(config common.GridConfig) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	n := &Node{config: config}

	if config.HasTier(common.TierTypeRaft) {
		nh, err := dragonboat.NewNodeHost(config.ToNodeHostConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create node host: %w", err)
		}
		n.nodeHost = nh
	}

	stores, err := n.createTiers()
	if err != nil {
		n.closeTiers(stores)
		return nil, err
	}
	if n.persistence, err = persistence.NewManager(nil, stores...); err != nil {
		n.closeTiers(stores)
		return nil, err
	}

	n.container = container.New(&container.Options{
		NumSegments:  config.Segments,
		ReapInterval: config.ReapInterval,
	})
	n.notifier = notify.NewNotifier()
	n.notifier.AddListener(func(_ context.Context, ev notify.Event) error {
		log.Debugf("Event %s", ev)
		return nil
	}, true)

	n.loader = loader.New(loader.Config{
		Passivation: config.Passivation,
		Statistics:  config.Statistics,
		Prefetch:    config.Prefetch,
		Parallelism: config.Parallelism,
	}, n.persistence, n.container, n.notifier)
	n.cache = cache.New(cache.Options{Passivation: config.Passivation}, n.container, n.persistence, n.loader)

	log.Infof("Grid node setup completed successfully")
	log.Infof("Configuration:\n%s", config.String())
	return n, nil
}

// createTiers creates the store tiers in the configured order. On failure
// the tiers created so far are returned for cleanup.
func (n *Node) createTiers() ([]persistence.Store, error) {
	var stores []persistence.Store
	shardID := n.config.ShardID
	for _, tier := range n.config.Tiers {
		var s persistence.Store
		var err error

		switch tier.Type {
		case common.TierTypeMemory:
			s = memstore.NewMemoryStore(&memstore.Options{Name: tier.Name, Shared: tier.Shared, Async: tier.Async})

		case common.TierTypeRedis:
			s, err = redisstore.Factory(&redis.Options{
				Addr:     n.config.RedisAddr,
				Password: n.config.RedisPassword,
				DB:       n.config.RedisDB,
			}, &redisstore.Options{Name: tier.Name, Prefix: n.config.RedisPrefix})()

		case common.TierTypeRaft:
			rc := n.config.ToDragonboatConfig()
			rc.ShardID = shardID
			if err = raftstore.StartReplica(n.nodeHost, n.config.ClusterMembers, n.config.Join, rc); err == nil {
				s = raftstore.NewRaftStore(n.nodeHost, shardID, &raftstore.Options{
					Name:    tier.Name,
					Timeout: time.Duration(n.config.TimeoutSecond) * time.Second,
				})
			}
			shardID++

		default:
			err = fmt.Errorf("invalid tier type: %s", tier.Type)
		}

		if err != nil {
			return stores, fmt.Errorf("create tier %s: %w", tier.Name, err)
		}
		log.Infof("Created %s tier %s", tier.Type, tier.Name)
		stores = append(stores, s)
	}
	return stores, nil
}

func (n *Node) closeTiers(stores []persistence.Store) {
	for _, s := range stores {
		_ = s.Close()
	}
	if n.nodeHost != nil {
		n.nodeHost.Close()
	}
}

// Cache returns the cache of the node.
func (n *Node) Cache() *cache.Cache {
	return n.cache
}

// Serve serves the admin API on the configured endpoint until ctx is done,
// then shuts the server down gracefully.
func (n *Node) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    n.config.Endpoint,
		Handler: n.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Starting HTTP server on %s", n.config.Endpoint)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Infof("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases all resources of the node. Queued events are delivered
// before the stores are closed.
func (n *Node) Close() error {
	n.notifier.Close()
	err := errors.Join(n.persistence.Close(), n.container.Close())
	if n.nodeHost != nil {
		n.nodeHost.Close()
	}
	return err
}
