package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/goby/internal/ir"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const packageColumns = `hash, deployment_key, label, description, app_version,
	binary_modified_time, is_pending, is_mandatory, package_size, bundle_path`

// CurrentMetadata returns the metadata of the current package,
// or nil if no package is current.
func (s *Store) CurrentMetadata(ctx context.Context) (*ir.PackageMetadata, error) {
	if s.db == nil {
		return nil, ir.NewPersistenceError("current metadata", errClosed)
	}
	current, _, err := pointers(ctx, s.db)
	if err != nil {
		return nil, ir.NewPersistenceError("current metadata", err)
	}
	if !current.Valid {
		return nil, nil
	}
	return s.Package(ctx, current.String)
}

// PreviousMetadata returns the metadata of the package that was current
// before the last promote, or nil if there is none.
func (s *Store) PreviousMetadata(ctx context.Context) (*ir.PackageMetadata, error) {
	if s.db == nil {
		return nil, ir.NewPersistenceError("previous metadata", errClosed)
	}
	_, previous, err := pointers(ctx, s.db)
	if err != nil {
		return nil, ir.NewPersistenceError("previous metadata", err)
	}
	if !previous.Valid {
		return nil, nil
	}
	return s.Package(ctx, previous.String)
}

// Package returns the metadata stored for hash, or nil if it is not installed.
func (s *Store) Package(ctx context.Context, hash string) (*ir.PackageMetadata, error) {
	if s.db == nil {
		return nil, ir.NewPersistenceError("read package", errClosed)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE hash = ?`, hash)
	meta, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ir.NewPersistenceError("read package", err)
	}
	return meta, nil
}

// Packages returns every installed package in install order.
func (s *Store) Packages(ctx context.Context) ([]ir.PackageMetadata, error) {
	if s.db == nil {
		return nil, ir.NewPersistenceError("list packages", errClosed)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+packageColumns+` FROM packages ORDER BY installed_seq ASC`)
	if err != nil {
		return nil, ir.NewPersistenceError("list packages", fmt.Errorf("query packages: %w", err))
	}
	defer rows.Close()

	var out []ir.PackageMetadata
	for rows.Next() {
		meta, err := scanPackage(rows)
		if err != nil {
			return nil, ir.NewPersistenceError("list packages", err)
		}
		out = append(out, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, ir.NewPersistenceError("list packages", fmt.Errorf("iterate packages: %w", err))
	}
	return out, nil
}

// CurrentBundlePath returns the absolute path of bundleName inside the
// current package. ok is false when no package is current.
//
// A package installed with an explicit BundlePath serves that file
// regardless of bundleName.
func (s *Store) CurrentBundlePath(ctx context.Context, bundleName string) (path string, ok bool, err error) {
	meta, err := s.CurrentMetadata(ctx)
	if err != nil || meta == nil {
		return "", false, err
	}

	rel := bundleName
	if meta.BundlePath != "" {
		rel = meta.BundlePath
	}
	path = filepath.Join(s.PackageDir(meta.PackageHash), filepath.FromSlash(rel))
	if _, statErr := os.Stat(path); statErr != nil {
		return "", false, ir.NewCorruptMetadataError("current bundle path", meta.PackageHash,
			"bundle file missing from current package", statErr)
	}
	return path, true, nil
}

// pointers reads the current and previous hashes.
func pointers(ctx context.Context, q querier) (current, previous sql.NullString, err error) {
	err = q.QueryRowContext(ctx,
		`SELECT current_hash, previous_hash FROM status WHERE id = 1`,
	).Scan(&current, &previous)
	if err != nil {
		return current, previous, fmt.Errorf("read status: %w", err)
	}
	return current, previous, nil
}

// hashes returns the set of hashes that have a metadata row.
func (s *Store) hashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM packages`)
	if err != nil {
		return nil, fmt.Errorf("query hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		out[hash] = struct{}{}
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPackage(row scanner) (*ir.PackageMetadata, error) {
	var (
		meta      ir.PackageMetadata
		pending   int64
		mandatory int64
	)
	err := row.Scan(
		&meta.PackageHash,
		&meta.DeploymentKey,
		&meta.Label,
		&meta.Description,
		&meta.AppVersion,
		&meta.BinaryModifiedTime,
		&pending,
		&mandatory,
		&meta.PackageSize,
		&meta.BundlePath,
	)
	if err != nil {
		return nil, err
	}
	meta.IsPending = pending != 0
	meta.IsMandatory = mandatory != 0
	return &meta, nil
}
