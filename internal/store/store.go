package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Immutability trigger on packages
const currentSchemaVersion = 1

const (
	databaseFile   = "packages.db"
	packagesFolder = "packages"
	stagingFolder  = "staging"
)

var errClosed = errors.New("store is closed")

// Store holds installed update packages and the current/previous pointers.
type Store struct {
	db          *sql.DB
	root        string
	packagesDir string
	stagingDir  string
}

// Open creates or opens the package store rooted at root.
// Applies pragmas and migrations, then sweeps crash leftovers.
//
// This function is idempotent - safe to call multiple times.
func Open(root string) (*Store, error) {
	s := &Store{
		root:        root,
		packagesDir: filepath.Join(root, packagesFolder),
		stagingDir:  filepath.Join(root, stagingFolder),
	}

	for _, dir := range []string{root, s.packagesDir, s.stagingDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", filepath.Join(root, databaseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s.db = db
	if err := s.sweep(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to sweep package store: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Root returns the directory the store lives in.
func (s *Store) Root() string {
	return s.root
}

// PackageDir returns the directory holding the contents of hash.
func (s *Store) PackageDir(hash string) string {
	return filepath.Join(s.packagesDir, hash)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 makes package metadata write-once.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TRIGGER IF NOT EXISTS packages_immutable
		BEFORE UPDATE ON packages
		BEGIN
			SELECT RAISE(ABORT, 'package metadata is immutable');
		END
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// sweep removes staging leftovers and package directories that no
// metadata row references. Both can only exist after a crash.
func (s *Store) sweep(ctx context.Context) error {
	if err := clearDir(s.stagingDir); err != nil {
		return err
	}

	known, err := s.hashes(ctx)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(s.packagesDir)
	if err != nil {
		return fmt.Errorf("read packages directory: %w", err)
	}
	for _, entry := range entries {
		if _, ok := known[entry.Name()]; ok {
			continue
		}
		log.WithField("package", entry.Name()).Debug("removing unreferenced package directory")
		if err := os.RemoveAll(filepath.Join(s.packagesDir, entry.Name())); err != nil {
			return fmt.Errorf("remove unreferenced package %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// clearDir removes everything inside dir but keeps dir itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}
