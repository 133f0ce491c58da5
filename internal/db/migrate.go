package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the schema scripts in lexical order. When
// migrationsDir exists on disk it takes precedence over the embedded set,
// so deployments can patch the schema without rebuilding the binary.
func RunMigrations(db *sql.DB, migrationsDir string) error {
	scripts, err := loadMigrations(migrationsDir)
	if err != nil {
		return err
	}
	for _, name := range sortedKeys(scripts) {
		body := scripts[name]
		if len(body) == 0 {
			continue
		}
		if _, err := db.Exec(string(body)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

func loadMigrations(dir string) (map[string][]byte, error) {
	if dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return readSQLFiles(os.DirFS(dir), ".")
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat migrations dir: %w", err)
		}
	}
	return readSQLFiles(embeddedMigrations, "migrations")
}

func readSQLFiles(fsys fs.FS, root string) (map[string][]byte, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	out := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		body, err := fs.ReadFile(fsys, filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		out[entry.Name()] = body
	}
	return out, nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
