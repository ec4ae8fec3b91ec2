package grid

import "fmt"

// --------------------------------------------------------------------------
// Command Types
// --------------------------------------------------------------------------

// CommandType defines all operation kinds that can pass the pipeline.
type CommandType uint8

const (
	CommandTGet                  CommandType = iota // Read the value of a single key
	CommandTGetEntry                                // Read the entry (value + metadata) of a single key
	CommandTPut                                     // Insert or update a single key
	CommandTRemove                                  // Remove a single key (optionally conditional on its value)
	CommandTReplace                                 // Replace the value of an existing key
	CommandTCompute                                 // Compute a new value from the old one
	CommandTComputeIfAbsent                         // Compute a value only if the key is absent
	CommandTGetAll                                  // Read many keys at once
	CommandTInvalidate                              // Invalidate many keys at once
	CommandTReadOnlyKey                             // Functional read of one key
	CommandTReadOnlyMany                            // Functional read of many keys
	CommandTReadWriteKey                            // Functional read-write of one key
	CommandTReadWriteKeyValue                       // Functional read-write of one key with an argument
	CommandTReadWriteMany                           // Functional read-write of many keys
	CommandTReadWriteManyEntries                    // Functional read-write of many keys with arguments
	CommandTGetKeysInGroup                          // Read all entries of a group
	CommandTKeySet                                  // Enumerate all keys
	CommandTEntrySet                                // Enumerate all entries
	CommandTSize                                    // Count all entries
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTGet:
		return "Get"
	case CommandTGetEntry:
		return "GetEntry"
	case CommandTPut:
		return "Put"
	case CommandTRemove:
		return "Remove"
	case CommandTReplace:
		return "Replace"
	case CommandTCompute:
		return "Compute"
	case CommandTComputeIfAbsent:
		return "ComputeIfAbsent"
	case CommandTGetAll:
		return "GetAll"
	case CommandTInvalidate:
		return "Invalidate"
	case CommandTReadOnlyKey:
		return "ReadOnlyKey"
	case CommandTReadOnlyMany:
		return "ReadOnlyMany"
	case CommandTReadWriteKey:
		return "ReadWriteKey"
	case CommandTReadWriteKeyValue:
		return "ReadWriteKeyValue"
	case CommandTReadWriteMany:
		return "ReadWriteMany"
	case CommandTReadWriteManyEntries:
		return "ReadWriteManyEntries"
	case CommandTGetKeysInGroup:
		return "GetKeysInGroup"
	case CommandTKeySet:
		return "KeySet"
	case CommandTEntrySet:
		return "EntrySet"
	case CommandTSize:
		return "Size"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// IsWrite returns true for commands that mutate the cache.
func (ct CommandType) IsWrite() bool {
	switch ct {
	case CommandTPut, CommandTRemove, CommandTReplace, CommandTCompute, CommandTComputeIfAbsent,
		CommandTInvalidate, CommandTReadWriteKey, CommandTReadWriteKeyValue,
		CommandTReadWriteMany, CommandTReadWriteManyEntries:
		return true
	default:
		return false
	}
}

// Strategy describes how the read-through loader handles a command kind.
type Strategy uint8

const (
	StrategyNone      Strategy = iota // Nothing to load, continue the pipeline
	StrategySingleKey                 // Load the command's key
	StrategyManyKeys                  // Load every key and join all loads
	StrategyGroup                     // Drain all group members from the store
	StrategyKeySet                    // Wrap the key-set view
	StrategyEntrySet                  // Wrap the entry-set view
	StrategySize                      // Try to answer from the store count
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "None"
	case StrategySingleKey:
		return "SingleKey"
	case StrategyManyKeys:
		return "ManyKeys"
	case StrategyGroup:
		return "Group"
	case StrategyKeySet:
		return "KeySet"
	case StrategyEntrySet:
		return "EntrySet"
	case StrategySize:
		return "Size"
	default:
		return "Unknown"
	}
}

// Strategy maps the command kind to its handling strategy.
func (ct CommandType) Strategy() Strategy {
	switch ct {
	case CommandTGet, CommandTGetEntry, CommandTPut, CommandTRemove, CommandTReplace,
		CommandTCompute, CommandTComputeIfAbsent, CommandTReadOnlyKey,
		CommandTReadWriteKey, CommandTReadWriteKeyValue:
		return StrategySingleKey
	case CommandTGetAll, CommandTInvalidate, CommandTReadOnlyMany,
		CommandTReadWriteMany, CommandTReadWriteManyEntries:
		return StrategyManyKeys
	case CommandTGetKeysInGroup:
		return StrategyGroup
	case CommandTKeySet:
		return StrategyKeySet
	case CommandTEntrySet:
		return StrategyEntrySet
	case CommandTSize:
		return StrategySize
	default:
		return StrategyNone
	}
}

// --------------------------------------------------------------------------
// Command
// --------------------------------------------------------------------------

// NoSegment marks a command whose segment has not been computed yet.
const NoSegment = -1

// Command is a single operation passing the pipeline.
// Which fields are used depends on the Type (see the constructors below).
type Command struct {
	Type       CommandType
	Key        string   // single key commands
	Keys       []string // multi key commands
	Value      []byte   // put, replace, conditional remove
	Flags      Flag
	LoadType   LoadType
	GroupName  string // CommandTGetKeysInGroup only
	GroupOwner bool   // CommandTGetKeysInGroup only
	Segment    int    // NoSegment = derive from the key
}

// HasAnyFlag returns true if at least one of the given flags is set on the command.
func (c *Command) HasAnyFlag(flags Flag) bool {
	return c.Flags.HasAny(flags)
}

// AddFlags sets the given flags on the command.
func (c *Command) AddFlags(flags Flag) {
	c.Flags |= flags
}

// IsWrite returns true if the command mutates the cache.
func (c *Command) IsWrite() bool {
	return c.Type.IsWrite()
}

// AffectedKeys returns all keys the command touches.
func (c *Command) AffectedKeys() []string {
	switch c.Type.Strategy() {
	case StrategySingleKey:
		return []string{c.Key}
	case StrategyManyKeys:
		return c.Keys
	default:
		return nil
	}
}

func (c *Command) String() string {
	switch c.Type.Strategy() {
	case StrategySingleKey:
		return fmt.Sprintf("%s{key=%s, flags=%s, loadType=%s}", c.Type, c.Key, c.Flags, c.LoadType)
	case StrategyManyKeys:
		return fmt.Sprintf("%s{keys=%d, flags=%s, loadType=%s}", c.Type, len(c.Keys), c.Flags, c.LoadType)
	case StrategyGroup:
		return fmt.Sprintf("%s{group=%s, owner=%t, flags=%s}", c.Type, c.GroupName, c.GroupOwner, c.Flags)
	default:
		return fmt.Sprintf("%s{flags=%s}", c.Type, c.Flags)
	}
}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

// NewKeyCommand creates a single key command. Write commands default to
// LoadTypeDontLoad, use WithLoadType when the previous value is needed.
func NewKeyCommand(t CommandType, key string, flags Flag) *Command {
	return &Command{Type: t, Key: key, Flags: flags, Segment: NoSegment}
}

// NewManyCommand creates a multi key command.
func NewManyCommand(t CommandType, keys []string, flags Flag) *Command {
	return &Command{Type: t, Keys: keys, Flags: flags, Segment: NoSegment}
}

// NewGroupCommand creates a command that reads all entries of a group.
func NewGroupCommand(groupName string, groupOwner bool, flags Flag) *Command {
	return &Command{
		Type:       CommandTGetKeysInGroup,
		GroupName:  groupName,
		GroupOwner: groupOwner,
		Flags:      flags,
		Segment:    NoSegment,
	}
}

// NewCommand creates a command without keys (key-set, entry-set, size).
func NewCommand(t CommandType, flags Flag) *Command {
	return &Command{Type: t, Flags: flags, Segment: NoSegment}
}

// WithValue sets the value of the command and returns it.
func (c *Command) WithValue(value []byte) *Command {
	c.Value = value
	return c
}

// WithLoadType sets the load type of the command and returns it.
func (c *Command) WithLoadType(loadType LoadType) *Command {
	c.LoadType = loadType
	return c
}

// WithSegment pins the command to a segment and returns it.
func (c *Command) WithSegment(segment int) *Command {
	c.Segment = segment
	return c
}
