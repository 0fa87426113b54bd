//go:build !sqlite_vec || !cgo

package embedding

import (
	_ "modernc.org/sqlite"
)

// Pure Go driver, no extension loading.
const driverName = "sqlite"
