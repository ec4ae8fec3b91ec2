// Package raftstore implements a shared, synchronous store tier that is
// replicated with Raft (github.com/lni/dragonboat).
//
// Writes are proposed to the shard with SyncPropose and applied by the
// StateMachine of every replica, reads are linearizable SyncRead lookups
// against the local replica. A node starts its replica with StartReplica
// and creates the tier with NewRaftStore.
package raftstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	"github.com/ValentinKolb/dGrid/lib/persistence/raftstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var (
	retries = 5
	log     = logger.GetLogger("raftstore")
)

// RaftNode is the part of a dragonboat NodeHost the tier uses.
type RaftNode interface {
	GetNoOPSession(shardID uint64) *client.Session
	SyncPropose(ctx context.Context, session *client.Session, cmd []byte) (sm.Result, error)
	SyncRead(ctx context.Context, shardID uint64, query interface{}) (interface{}, error)
}

// Options configures a raft store tier.
type Options struct {
	Name    string           // Name of the tier (default "raft")
	Timeout time.Duration    // Timeout of a single proposal or read (default 5s)
	Clock   func() time.Time // Time source for expiration (nil = time.Now)
}

// storeImpl encapsulates a NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	cfg     persistence.Config
	nh      RaftNode
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	now     func() time.Time
}

// StartReplica starts the replica of the store shard on the node host.
func StartReplica(nh *dragonboat.NodeHost, members map[uint64]string, join bool, cfg config.Config) error {
	if err := nh.StartConcurrentReplica(members, join, CreateStateMachineFactory(), cfg); err != nil {
		return fmt.Errorf("failed to start shard %d: %w", cfg.ShardID, err)
	}
	log.Infof("Started replica %d of shard %d", cfg.ReplicaID, cfg.ShardID)
	return nil
}

// NewRaftStore creates a store tier on the given shard.
func NewRaftStore(nh RaftNode, shardID uint64, opts *Options) persistence.Store {
	if opts == nil {
		opts = &Options{}
	}
	name := opts.Name
	if name == "" {
		name = "raft"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &storeImpl{
		cfg:     persistence.Config{Name: name, Shared: true, Async: false},
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
		now:     now,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write proposes a serialized Command via SyncPropose and returns the result.
func (s *storeImpl) write(ctx context.Context, cmd internal.Command) (sm.Result, error) {
	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncPropose(pctx, s.cs, cmd.Serialize())
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			return res, persistence.NewError(persistence.RetCInternalError, err.Error())
		}
		if res.Value != uint64(persistence.RetCSuccess) {
			return res, persistence.NewError(persistence.RetCode(res.Value), string(res.Data))
		}
		return res, nil
	}
	return sm.Result{}, persistence.NewError(persistence.RetCStoreUnavailable, "timeout")
}

// read queries the state machine and converts the response into the expected type R.
// If the read fails due to a system busy error, it is retried up to 5 times.
func read[R any](ctx context.Context, s *storeImpl, q internal.Query) (R, error) {
	var zero R
	q.Now = s.now().UnixNano()
	for i := 0; i < retries; i++ {
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncRead(rctx, s.shardID, q)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		if err != nil {
			var storeErr *persistence.Error
			if errors.As(err, &storeErr) {
				return zero, storeErr
			}
			return zero, persistence.NewError(persistence.RetCInternalError, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, persistence.Errorf(persistence.RetCInternalError, "unexpected type: received %T, expected %T", res, zero)
		}
		return casted, nil
	}
	return zero, persistence.NewError(persistence.RetCStoreUnavailable, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docu see persistence/store.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Config() persistence.Config {
	return s.cfg
}

func (s *storeImpl) Load(ctx context.Context, key string) (grid.InternalEntry, bool, error) {
	res, err := read[internal.LoadResult](ctx, s, internal.Query{Type: internal.QueryTLoad, Key: key})
	if err != nil {
		return grid.InternalEntry{}, false, err
	}
	return res.Entry, res.Ok, nil
}

func (s *storeImpl) Write(ctx context.Context, e grid.InternalEntry) error {
	if e.Value == nil {
		return persistence.NewError(persistence.RetCInvalidOperation, "can not write a null value")
	}
	_, err := s.write(ctx, internal.Command{
		Type:     internal.CommandTWrite,
		Key:      e.Key,
		Version:  e.Metadata.Version,
		Created:  e.Metadata.Created,
		ExpireAt: e.Metadata.ExpireAt,
		Value:    e.Value,
	})
	return err
}

func (s *storeImpl) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.write(ctx, internal.Command{Type: internal.CommandTDelete, Key: key})
	if err != nil {
		return false, err
	}
	return len(res.Data) == 1 && res.Data[0] == 1, nil
}

func (s *storeImpl) PublishKeys(filter persistence.KeyFilter) cursor.Publisher[string] {
	return cursor.MapPublisher(s.PublishEntries(filter, false), grid.EntryKey)
}

// PublishEntries reads the matching entries with a single linearizable
// lookup and publishes them in key order.
func (s *storeImpl) PublishEntries(filter persistence.KeyFilter, includeExpired bool) cursor.Publisher[grid.InternalEntry] {
	return func(ctx context.Context, emit func(grid.InternalEntry) bool) error {
		entries, err := read[[]grid.InternalEntry](ctx, s, internal.Query{
			Type:           internal.QueryTEntries,
			Filter:         filter,
			IncludeExpired: includeExpired,
		})
		if err != nil {
			return err
		}
		return cursor.SlicePublisher(entries)(ctx, emit)
	}
}

func (s *storeImpl) Size(ctx context.Context) (int64, error) {
	return read[int64](ctx, s, internal.Query{Type: internal.QueryTSize})
}

func (s *storeImpl) Clear(ctx context.Context) error {
	_, err := s.write(ctx, internal.Command{Type: internal.CommandTClear})
	return err
}

// Close does nothing, the node host is owned by the node.
func (s *storeImpl) Close() error {
	return nil
}
