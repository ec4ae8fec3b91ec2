package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid/container"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the raft tier)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the GridConfig to the Dragonboat Config of the raft tier
func (c *GridConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *GridConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// ReplicaID derives the numeric replica id from a node name.
func ReplicaID(name string) uint64 {
	return container.HashString(name)
}

// --------------------------------------------------------------------------
// Store tiers
// --------------------------------------------------------------------------

type TierType string

const (
	TierTypeMemory TierType = "memory"
	TierTypeRedis  TierType = "redis"
	TierTypeRaft   TierType = "raft"
)

// TierConfig configures one store tier. Redis and raft tiers are always
// shared and synchronous, Shared and Async only apply to memory tiers.
type TierConfig struct {
	Name   string
	Type   TierType
	Shared bool
	Async  bool
}

func (t TierConfig) String() string {
	switch t.Type {
	case TierTypeMemory:
		return fmt.Sprintf("%s (shared=%t, async=%t)", t.Type, t.Shared, t.Async)
	default:
		return string(t.Type)
	}
}

// ParseTiers parses a comma-separated list of tiers in the format
// NAME=TYPE, where TYPE is one of memory, memory(shared), memory(async),
// redis or raft.
func ParseTiers(s string) ([]TierConfig, error) {
	var tiers []TierConfig
	names := make(map[string]struct{})
	for _, def := range strings.Split(s, ",") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		name, typ, ok := strings.Cut(def, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid tier format: %s (expected NAME=TYPE)", def)
		}
		name = strings.TrimSpace(name)
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("duplicate tier name: %s", name)
		}
		names[name] = struct{}{}

		tier := TierConfig{Name: name}
		switch strings.TrimSpace(typ) {
		case "memory":
			tier.Type = TierTypeMemory
		case "memory(shared)":
			tier.Type, tier.Shared = TierTypeMemory, true
		case "memory(async)":
			tier.Type, tier.Async = TierTypeMemory, true
		case "redis":
			tier.Type, tier.Shared = TierTypeRedis, true
		case "raft":
			tier.Type, tier.Shared = TierTypeRaft, true
		default:
			return nil, fmt.Errorf("invalid tier type: %s (expected one of: memory, memory(shared), memory(async), redis, raft)", typ)
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

// ParseMembers parses a comma-separated list of cluster members in the
// format 'node-1=localhost:63001,node-2=localhost:63002'. Node names are
// converted with ReplicaID.
func ParseMembers(s string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(s, ",") {
		name, addr, ok := strings.Cut(strings.TrimSpace(member), "=")
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[ReplicaID(name)] = addr
	}
	return members, nil
}

// --------------------------------------------------------------------------
// Grid node configuration struct
// --------------------------------------------------------------------------

// GridConfig holds all configuration parameters of a grid node.
type GridConfig struct {
	// In-memory container
	Segments     int
	ReapInterval time.Duration

	// Read-through loader
	Passivation bool
	Statistics  bool
	Prefetch    int
	Parallelism int

	// Store tiers in lookup order
	Tiers []TierConfig

	// Redis tier parameters
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Dragonboat parameters (raft tier)
	ShardID            uint64
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string
	Join               bool
	TimeoutSecond      int64

	// HTTP api settings
	Endpoint string

	// Logging configuration
	LogLevel string
}

// HasTier checks if the configuration contains a tier of the given type
func (c *GridConfig) HasTier(t TierType) bool {
	for _, tier := range c.Tiers {
		if tier.Type == t {
			return true
		}
	}
	return false
}

// Validate checks the configuration for missing or inconsistent values.
func (c *GridConfig) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.HasTier(TierTypeRedis) && c.RedisAddr == "" {
		return fmt.Errorf("RedisAddr is required for redis tiers")
	}
	if !c.HasTier(TierTypeRaft) {
		return nil
	}
	if c.ReplicaID == 0 {
		return fmt.Errorf("ReplicaId is required for raft tiers")
	}
	if len(c.ClusterMembers) == 0 {
		return fmt.Errorf("ClusterMembers is required for raft tiers")
	}
	if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica ID %d in cluster members", c.ReplicaID)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *GridConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("HTTP API")
	addField("Endpoint", c.Endpoint)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Container")
	addField("Segments", strconv.Itoa(c.Segments))
	addField("Reap Interval", c.ReapInterval.String())

	addSection("Loader")
	addField("Passivation", strconv.FormatBool(c.Passivation))
	addField("Statistics", strconv.FormatBool(c.Statistics))
	addField("Prefetch", strconv.Itoa(c.Prefetch))
	addField("Parallelism", strconv.Itoa(c.Parallelism))

	addSection("Store Tiers")
	if len(c.Tiers) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, tier := range c.Tiers {
		addField(tier.Name, tier.String())
	}

	if c.HasTier(TierTypeRedis) {
		addSection("Redis")
		addField("Address", c.RedisAddr)
		addField("Database", strconv.Itoa(c.RedisDB))
		addField("Key Prefix", c.RedisPrefix)
	}

	if c.HasTier(TierTypeRaft) {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))
		addField("Shard ID", strconv.FormatUint(c.ShardID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
		addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}
