// Package cmd implements the command-line interface of dGrid.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a grid node and its admin HTTP API
//   - bench: Benchmarks the read-through path of an in-process node
//   - util: Shared flags and configuration handling (internal use)
//
// Every flag can also be set as DGRID_<FLAG> environment variable or in
// a .env file. See dgrid -help for a list of all commands.
package cmd
