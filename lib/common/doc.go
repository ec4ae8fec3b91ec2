// Package common provides the configuration and logging shared by all
// components of a grid node.
//
// Key Components:
//
//   - GridConfig: Configuration of a node: the in-memory container, the
//     read-through loader, the store tiers (memory, redis, raft), the RAFT
//     parameters and the admin endpoint. Provides utilities for converting
//     to Dragonboat-specific configurations.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the
//     application. Every package obtains its logger with logger.GetLogger.
package common
