//go:build !cgo_sqlite
// +build !cgo_sqlite

package storage

// Compiled without the cgo_sqlite tag. Uses the pure Go SQLite
// implementation; vector math runs in Go either way.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use.
	DriverName = "sqlite"

	// BuildMode describes the current build configuration.
	BuildMode = "purego"
)
