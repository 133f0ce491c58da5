package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	dbstore "github.com/vocatio-app/vocatio/internal/db"
)

// openSQLiteStore opens (creating if needed) the SQLite database at the given
// path, applies pending migrations, and returns the ready store plus a close
// function for shutdown.
func openSQLiteStore(sqlitePath, migrationsDir string) (*dbstore.SQLiteStore, func(), error) {
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(sqlitePath))
	sqliteDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	closeDB := func() {
		if cerr := sqliteDB.Close(); cerr != nil {
			log.Printf("warning: failed to close sqlite db: %v", cerr)
		}
	}

	if err := dbstore.RunMigrations(sqliteDB, migrationsDir); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := dbstore.NewSQLiteStore(sqliteDB)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("init sqlite store: %w", err)
	}
	return store, closeDB, nil
}
