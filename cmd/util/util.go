package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dGrid/lib/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the env files and makes viper read DGRID_<flag>
// environment variables (e.g. DGRID_LOG_LEVEL=debug).
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dgrid")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupGridFlags adds the flags of a grid node to a command
func SetupGridFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	key := "tiers"
	flags.String(key, "l1=memory", WrapString("Comma-separated list of store tiers in lookup order. Format: NAME=TYPE where TYPE is one of: memory, memory(shared), memory(async), redis, raft"))

	key = "segments"
	flags.Int(key, 256, WrapString("Number of segments of the in-memory container"))

	key = "reap-interval"
	flags.Duration(key, time.Minute, WrapString("Interval in which expired entries are removed from the container (0 disables the background reaper)"))

	key = "passivation"
	flags.Bool(key, false, WrapString("Treat the stores as an overflow tier: writes stay in memory until an entry is evicted and loaded entries are activated"))

	key = "statistics"
	flags.Bool(key, true, WrapString("Record load statistics (exposed on /stats and /metrics)"))

	key = "prefetch"
	flags.Int(key, 0, WrapString("Number of store elements buffered ahead of an iterator (0 = default)"))

	key = "parallelism"
	flags.Int(key, 0, WrapString("Number of workers of parallel iterations (0 = number of CPUs)"))

	key = "redis-addr"
	flags.String(key, "localhost:6379", WrapString("(redis tier) Address of the redis server"))

	key = "redis-password"
	flags.String(key, "", WrapString("(redis tier) Password of the redis server"))

	key = "redis-db"
	flags.Int(key, 0, WrapString("(redis tier) Redis database to use"))

	key = "redis-prefix"
	flags.String(key, "dgrid:", WrapString("(redis tier) Prefix of all keys written to redis"))

	key = "shard-id"
	flags.Uint64(key, 100, WrapString("(raft tier) Shard ID of the first raft tier, further raft tiers use the following ids"))

	key = "rtt-millisecond"
	flags.Int(key, 100, WrapString("(raft tier) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Other raft configuration parameters (ElectionRTT=value/10, HeartbeatRTT=value/100) are derived from this value"))

	key = "snapshot-entries"
	flags.Int(key, 10, WrapString("(raft tier) SnapshotEntries defines how often the state machine should be snapshotted automatically, in terms of applied Raft log entries (0 disables automatic snapshots)"))

	key = "compaction-overhead"
	flags.Int(key, 5, WrapString("(raft tier) CompactionOverhead defines the number of snapshots that should be retained. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	flags.String(key, "data", WrapString("(raft tier) DataDir is the directory used for storing the raft log and snapshots"))

	key = "replica-id"
	flags.String(key, "", WrapString("(raft tier) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	flags.String(key, "", WrapString("(raft tier) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "join"
	flags.Bool(key, false, WrapString("(raft tier) Join an already running cluster instead of bootstrapping it"))

	key = "timeout"
	flags.Int64(key, 5, WrapString("(raft tier) Timeout of raft proposals and reads in seconds"))

	key = "endpoint"
	flags.String(key, "0.0.0.0:8080", WrapString("The address on which the admin API will listen"))

	key = "log-level"
	flags.String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// GetGridConfig reads the grid node configuration from viper
func GetGridConfig() (common.GridConfig, error) {
	conf := common.GridConfig{
		Segments:           viper.GetInt("segments"),
		ReapInterval:       viper.GetDuration("reap-interval"),
		Passivation:        viper.GetBool("passivation"),
		Statistics:         viper.GetBool("statistics"),
		Prefetch:           viper.GetInt("prefetch"),
		Parallelism:        viper.GetInt("parallelism"),
		RedisAddr:          viper.GetString("redis-addr"),
		RedisPassword:      viper.GetString("redis-password"),
		RedisDB:            viper.GetInt("redis-db"),
		RedisPrefix:        viper.GetString("redis-prefix"),
		ShardID:            viper.GetUint64("shard-id"),
		RTTMillisecond:     viper.GetUint64("rtt-millisecond"),
		SnapshotEntries:    viper.GetUint64("snapshot-entries"),
		CompactionOverhead: viper.GetUint64("compaction-overhead"),
		DataDir:            viper.GetString("data-dir"),
		Join:               viper.GetBool("join"),
		TimeoutSecond:      viper.GetInt64("timeout"),
		Endpoint:           viper.GetString("endpoint"),
		LogLevel:           viper.GetString("log-level"),
	}

	tiers, err := common.ParseTiers(viper.GetString("tiers"))
	if err != nil {
		return conf, err
	}
	conf.Tiers = tiers

	if id := viper.GetString("replica-id"); id != "" {
		conf.ReplicaID = common.ReplicaID(id)
	}
	if members := viper.GetString("cluster-members"); members != "" {
		if conf.ClusterMembers, err = common.ParseMembers(members); err != nil {
			return conf, err
		}
	}

	if err := conf.Validate(); err != nil {
		return conf, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}
