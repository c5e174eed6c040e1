package store

import "database/sql"

// RawDB exposes the handle so tests can bypass the Store API.
func RawDB(s *SQLiteStore) *sql.DB { return s.db }
