// Package types defines the shared data model for semcode: indexed
// blocks, file records, graph nodes and edges, and memory records.
//
// Types in this package are plain values with validation helpers. They
// carry no storage or transport concerns; those live in internal/.
package types
