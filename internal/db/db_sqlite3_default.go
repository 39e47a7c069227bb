//go:build !sqlite3_cgo

package db

// The default driver is pure Go (wasm), so the binary cross-compiles without cgo.
import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
