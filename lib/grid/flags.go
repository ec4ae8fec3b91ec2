package grid

import "strings"

// Flag represents command flags as bit flags
type Flag uint64

const (
	FlagSkipCacheLoad            Flag = 1 << iota // Never consult a persistent store for this command
	FlagSkipOwnershipCheck                        // Load even if this node is not allowed to load the key
	FlagSkipSizeOptimization                      // Never answer size queries from the store count
	FlagRemoteIteration                           // The views are consumed remotely, no removable wrapping
	FlagSkipListenerNotification                  // Do not deliver events to listeners
	FlagCacheModeLocal                            // Operate on the local node only
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagSkipCacheLoad, "SKIP_CACHE_LOAD"},
	{FlagSkipOwnershipCheck, "SKIP_OWNERSHIP_CHECK"},
	{FlagSkipSizeOptimization, "SKIP_SIZE_OPTIMIZATION"},
	{FlagRemoteIteration, "REMOTE_ITERATION"},
	{FlagSkipListenerNotification, "SKIP_LISTENER_NOTIFICATION"},
	{FlagCacheModeLocal, "CACHE_MODE_LOCAL"},
}

// HasAny returns true if at least one of the given flags is set.
// Multiple flags can be checked at once using bitwise OR (|) operator.
func (f Flag) HasAny(flags Flag) bool {
	return f&flags != 0
}

// HasAll returns true if all of the given flags are set.
func (f Flag) HasAll(flags Flag) bool {
	return f&flags == flags
}

func (f Flag) String() string {
	if f == 0 {
		return "NONE"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(parts, "|")
}

// LoadType declares whether a write command needs the previous value of a key.
type LoadType uint8

const (
	LoadTypeDontLoad LoadType = iota // The command never reads the previous value
	LoadTypePrimary                  // The previous value is needed on the primary owner
	LoadTypeOwner                    // The previous value is needed on every owner
)

func (l LoadType) String() string {
	switch l {
	case LoadTypeDontLoad:
		return "DontLoad"
	case LoadTypePrimary:
		return "Primary"
	case LoadTypeOwner:
		return "Owner"
	default:
		return "Unknown"
	}
}
