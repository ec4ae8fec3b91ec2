package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTWrite  CommandType = iota // Insert or replace an entry.
	CommandTDelete                    // Delete an entry.
	CommandTClear                     // Delete all entries.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTWrite:
		return "Write"
	case CommandTDelete:
		return "Delete"
	case CommandTClear:
		return "Clear"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// headerSize is the fixed part of a serialized command:
// Type + Version + Created + ExpireAt + KeyLen
const headerSize = 1 + 8 + 8 + 8 + 4

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type     CommandType
	Key      string
	Version  uint64
	Created  int64
	ExpireAt int64
	Value    []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for the version,
// 8 bytes for the creation time,
// 8 bytes for the expiration time,
// 4 bytes for key length (big endian),
// N bytes for key data,
// N bytes for value data (rest of the buffer)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], command.Version)
	binary.BigEndian.PutUint64(result[9:17], uint64(command.Created))
	binary.BigEndian.PutUint64(result[17:25], uint64(command.ExpireAt))
	binary.BigEndian.PutUint32(result[25:29], uint32(len(command.Key)))

	n := copy(result[headerSize:], command.Key)
	copy(result[headerSize+n:], command.Value)
	return result
}

// Deserialize extracts all Command fields from a byte array.
// The value of a write command is never nil (an empty value stays empty).
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Version = binary.BigEndian.Uint64(data[1:9])
	command.Created = int64(binary.BigEndian.Uint64(data[9:17]))
	command.ExpireAt = int64(binary.BigEndian.Uint64(data[17:25]))
	keyLen := int(binary.BigEndian.Uint32(data[25:29]))

	if len(data) < headerSize+keyLen {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[headerSize : headerSize+keyLen])

	rest := data[headerSize+keyLen:]
	if command.Type != CommandTWrite && len(rest) == 0 {
		command.Value = nil
		return nil
	}
	command.Value = make([]byte, len(rest))
	copy(command.Value, rest)
	return nil
}
