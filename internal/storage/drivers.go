package storage

// Registered database/sql drivers: "sqlite", "sqlite3" and "postgres".
import (
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)
