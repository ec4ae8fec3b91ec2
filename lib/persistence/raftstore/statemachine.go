package raftstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	"github.com/ValentinKolb/dGrid/lib/persistence/raftstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	snapshotMagic   = "DGRIDSM\x00" // Snapshot format identifier
	snapshotVersion = 1             // Snapshot format version
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// StateMachine is the replicated state of a raft store tier.
//
// Updates are deterministic: expiration is never evaluated while applying a
// command, queries pass their reference time explicitly.
type StateMachine struct {
	replicaID uint64
	shardID   uint64
	data      *xsync.MapOf[string, grid.InternalEntry]
}

// NewStateMachine creates an empty state machine.
func NewStateMachine(shardID, replicaID uint64) *StateMachine {
	return &StateMachine{
		replicaID: replicaID,
		shardID:   shardID,
		data:      xsync.NewMapOf[string, grid.InternalEntry](),
	}
}

// CreateStateMachineFactory returns the factory dragonboat uses to create the
// state machine of a replica.
func CreateStateMachineFactory() func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return NewStateMachine(shardID, replicaID)
	}
}

// Lookup handles read-only queries.
func (fsm *StateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, persistence.Errorf(persistence.RetCInternalError, "invalid query type: %T", itf)
	}

	now := time.Unix(0, q.Now)
	switch q.Type {
	case internal.QueryTLoad:
		e, ok := fsm.data.Load(q.Key)
		if ok {
			e = copyEntry(e)
		}
		return internal.LoadResult{Ok: ok, Entry: e}, nil

	case internal.QueryTEntries:
		var entries []grid.InternalEntry
		fsm.data.Range(func(key string, e grid.InternalEntry) bool {
			if (q.Filter == nil || q.Filter(key)) && (q.IncludeExpired || !e.IsExpired(now)) {
				entries = append(entries, copyEntry(e))
			}
			return true
		})
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		return entries, nil

	case internal.QueryTSize:
		var n int64
		fsm.data.Range(func(_ string, e grid.InternalEntry) bool {
			if !e.IsExpired(now) {
				n++
			}
			return true
		})
		return n, nil

	default:
		return nil, persistence.Errorf(persistence.RetCInvalidOperation, "unknown query operation: %d", q.Type)
	}
}

// Update applies a batch of committed commands.
// The result value of every entry is a persistence.RetCode, a delete sets
// Data to {1} if the key existed.
func (fsm *StateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(persistence.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}

		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(persistence.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}

		switch cmd.Type {
		case internal.CommandTWrite:
			fsm.data.Store(cmd.Key, grid.InternalEntry{
				Key:   cmd.Key,
				Value: cmd.Value,
				Metadata: grid.Metadata{
					Version:  cmd.Version,
					Created:  cmd.Created,
					ExpireAt: cmd.ExpireAt,
				},
			})
			entries[idx].Result = sm.Result{Value: uint64(persistence.RetCSuccess)}
		case internal.CommandTDelete:
			_, existed := fsm.data.LoadAndDelete(cmd.Key)
			data := []byte{0}
			if existed {
				data[0] = 1
			}
			entries[idx].Result = sm.Result{Value: uint64(persistence.RetCSuccess), Data: data}
		case internal.CommandTClear:
			fsm.data.Clear()
			entries[idx].Result = sm.Result{Value: uint64(persistence.RetCSuccess)}
		default:
			entries[idx].Result = sm.Result{
				Value: uint64(persistence.RetCInvalidOperation),
				Data:  []byte(fmt.Sprintf("unknown command operation: %s", cmd.Type)),
			}
		}
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot captures the entries that SaveSnapshot writes.
// Dragonboat never runs it concurrently with Update.
func (fsm *StateMachine) PrepareSnapshot() (interface{}, error) {
	entries := make([]grid.InternalEntry, 0, fsm.data.Size())
	fsm.data.Range(func(_ string, e grid.InternalEntry) bool {
		entries = append(entries, e)
		return true
	})
	return entries, nil
}

// SaveSnapshot writes the captured entries in the binary snapshot format.
func (fsm *StateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, done <-chan struct{}) error {
	entries, ok := ctx.([]grid.InternalEntry)
	if !ok {
		return fmt.Errorf("invalid snapshot context: %T", ctx)
	}

	bw := bufio.NewWriterSize(writer, 1024*1024)
	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	for i, e := range entries {
		if i%1024 == 0 {
			select {
			case <-done:
				return sm.ErrSnapshotStopped
			default:
			}
		}
		if err := writeEntry(bw, e); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// RecoverFromSnapshot replaces the state with the content of a snapshot.
func (fsm *StateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, done <-chan struct{}) error {
	br := bufio.NewReaderSize(r, 1024*1024)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return err
	}
	if string(magic) != snapshotMagic {
		return fmt.Errorf("invalid snapshot format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d (expected %d)", version, snapshotVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	data := xsync.NewMapOf[string, grid.InternalEntry]()
	for i := uint64(0); i < count; i++ {
		if i%1024 == 0 {
			select {
			case <-done:
				return sm.ErrSnapshotStopped
			default:
			}
		}
		e, err := readEntry(br)
		if err != nil {
			return err
		}
		data.Store(e.Key, e)
	}

	fsm.data = data
	log.Infof("Recovered %d entries from snapshot (shard %d, replica %d)", count, fsm.shardID, fsm.replicaID)
	return nil
}

// Close performs any necessary cleanup.
func (fsm *StateMachine) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// Snapshot encoding
// --------------------------------------------------------------------------

func writeEntry(w io.Writer, e grid.InternalEntry) error {
	fields := []any{
		uint32(len(e.Key)),
		[]byte(e.Key),
		e.Metadata.Version,
		e.Metadata.Created,
		e.Metadata.ExpireAt,
		uint32(len(e.Value)),
		e.Value,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func readEntry(r io.Reader) (grid.InternalEntry, error) {
	var e grid.InternalEntry

	var keyLen uint32
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return e, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return e, err
	}
	e.Key = string(key)

	for _, f := range []any{&e.Metadata.Version, &e.Metadata.Created, &e.Metadata.ExpireAt} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return e, err
		}
	}

	var valueLen uint32
	if err := binary.Read(r, binary.LittleEndian, &valueLen); err != nil {
		return e, err
	}
	e.Value = make([]byte, valueLen)
	if _, err := io.ReadFull(r, e.Value); err != nil {
		return e, err
	}
	return e, nil
}

func copyEntry(e grid.InternalEntry) grid.InternalEntry {
	value := make([]byte, len(e.Value))
	copy(value, e.Value)
	e.Value = value
	return e
}
