package common

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func TestParseTiers(t *testing.T) {
	tests := []struct {
		input    string
		expected []TierConfig
		wantErr  bool
	}{
		{"", nil, false},
		{"l1=memory", []TierConfig{{Name: "l1", Type: TierTypeMemory}}, false},
		{"l1=memory(shared), r=redis", []TierConfig{
			{Name: "l1", Type: TierTypeMemory, Shared: true},
			{Name: "r", Type: TierTypeRedis, Shared: true},
		}, false},
		{"wb=memory(async),db=raft", []TierConfig{
			{Name: "wb", Type: TierTypeMemory, Async: true},
			{Name: "db", Type: TierTypeRaft, Shared: true},
		}, false},
		{"l1", nil, true},
		{"=memory", nil, true},
		{"l1=disk", nil, true},
		{"a=memory,a=redis", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tiers, err := ParseTiers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTiers(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if len(tiers) != len(tt.expected) {
				t.Fatalf("ParseTiers(%q) = %v, expected %v", tt.input, tiers, tt.expected)
			}
			for i := range tiers {
				if tiers[i] != tt.expected[i] {
					t.Errorf("tier %d = %+v, expected %+v", i, tiers[i], tt.expected[i])
				}
			}
		})
	}
}

func TestParseMembers(t *testing.T) {
	members, err := ParseMembers("node-1=localhost:63001, node-2=localhost:63002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if addr := members[ReplicaID("node-2")]; addr != "localhost:63002" {
		t.Errorf("expected localhost:63002 for node-2, got %q", addr)
	}

	if _, err := ParseMembers("node-1"); err == nil {
		t.Error("expected an error for a member without address")
	}
}

func TestValidate(t *testing.T) {
	raft := []TierConfig{{Name: "db", Type: TierTypeRaft, Shared: true}}
	members := map[uint64]string{ReplicaID("node-1"): "localhost:63001"}

	tests := []struct {
		name    string
		config  GridConfig
		wantErr bool
	}{
		{"defaults", GridConfig{}, false},
		{"bad log level", GridConfig{LogLevel: "loud"}, true},
		{"redis without address", GridConfig{Tiers: []TierConfig{{Name: "r", Type: TierTypeRedis}}}, true},
		{"raft without replica", GridConfig{Tiers: raft, ClusterMembers: members}, true},
		{"raft without members", GridConfig{Tiers: raft, ReplicaID: ReplicaID("node-1")}, true},
		{"raft replica not a member", GridConfig{Tiers: raft, ReplicaID: ReplicaID("node-2"), ClusterMembers: members}, true},
		{"raft", GridConfig{Tiers: raft, ReplicaID: ReplicaID("node-1"), ClusterMembers: members}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDragonboatConfig(t *testing.T) {
	c := GridConfig{
		ShardID:            7,
		ReplicaID:          ReplicaID("node-1"),
		ClusterMembers:     map[uint64]string{ReplicaID("node-1"): "localhost:63001"},
		RTTMillisecond:     100,
		SnapshotEntries:    10,
		CompactionOverhead: 5,
		DataDir:            "data",
	}

	rc := c.ToDragonboatConfig()
	if rc.ShardID != 7 || rc.ReplicaID != c.ReplicaID {
		t.Errorf("unexpected ids shard=%d replica=%d", rc.ShardID, rc.ReplicaID)
	}
	if rc.ElectionRTT != electionRTTFactor || rc.HeartbeatRTT != heartbeatRTTFactor || !rc.CheckQuorum {
		t.Errorf("unexpected raft timing %+v", rc)
	}

	nhc := c.ToNodeHostConfig()
	if nhc.RaftAddress != "localhost:63001" || nhc.NodeHostDir != "data" || nhc.RTTMillisecond != 100 {
		t.Errorf("unexpected node host config %+v", nhc)
	}
}

func TestString(t *testing.T) {
	c := GridConfig{
		Endpoint: "0.0.0.0:8080",
		LogLevel: "info",
		Tiers: []TierConfig{
			{Name: "l1", Type: TierTypeMemory, Async: true},
			{Name: "r", Type: TierTypeRedis, Shared: true},
		},
		RedisAddr: "localhost:6379",
	}
	s := c.String()
	for _, want := range []string{"HTTP API", "STORE TIERS", "memory (shared=false, async=true)", "REDIS", "localhost:6379"} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in:\n%s", want, s)
		}
	}
	if strings.Contains(s, "RAFT PARAMETERS") {
		t.Errorf("raft section without raft tier:\n%s", s)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := output
	output = &buf
	defer func() { output = prev }()

	l := CreateLogger("loader")
	l.Debugf("hidden")
	l.Infof("loaded %d", 1)
	l.SetLevel(logger.ERROR)
	l.Warningf("hidden")
	l.Errorf("failed")

	s := buf.String()
	if strings.Contains(s, "hidden") {
		t.Errorf("message below the level was written:\n%s", s)
	}
	if !strings.Contains(s, "INFO  | loader          | loaded 1") {
		t.Errorf("unexpected info line:\n%s", s)
	}
	if !strings.Contains(s, "ERROR | loader          | failed") {
		t.Errorf("unexpected error line:\n%s", s)
	}
}

func TestParseLogLevel(t *testing.T) {
	for input, expected := range map[string]logger.LogLevel{
		"debug": logger.DEBUG, "INFO": logger.INFO, "": logger.INFO, "warn": logger.WARNING, "error": logger.ERROR,
	} {
		level, err := ParseLogLevel(input)
		if err != nil || level != expected {
			t.Errorf("ParseLogLevel(%q) = %v, %v expected %v", input, level, err, expected)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}
