package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/roach88/goby/internal/ir"
)

// InstallPackage copies the package tree at srcDir into the store and
// records meta. When meta.PackageHash is empty it is computed from the
// contents with HashDirectory. The returned metadata is what the store
// holds for the hash.
//
// Installing a hash that is already present is a no-op: metadata is
// write-once, so the stored record is returned unchanged.
func (s *Store) InstallPackage(ctx context.Context, srcDir string, meta ir.PackageMetadata) (ir.PackageMetadata, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return meta, ir.NewInvalidPackageError("install package", meta.PackageHash, "source not readable", err)
	}
	if !info.IsDir() {
		return meta, ir.NewInvalidPackageError("install package", meta.PackageHash, "source is not a directory", nil)
	}

	stage, err := s.newStagingDir()
	if err != nil {
		return meta, err
	}
	defer os.RemoveAll(stage)

	if err := copyTree(srcDir, stage); err != nil {
		return meta, ir.NewInvalidPackageError("install package", meta.PackageHash, "copy package contents", err)
	}
	return s.commitStaged(ctx, stage, meta)
}

// InstallArchive extracts a zip archive into the store and records meta.
// See InstallPackage for hash and idempotency rules.
func (s *Store) InstallArchive(ctx context.Context, archivePath string, meta ir.PackageMetadata) (ir.PackageMetadata, error) {
	stage, err := s.newStagingDir()
	if err != nil {
		return meta, err
	}
	defer os.RemoveAll(stage)

	if err := extractArchive(archivePath, stage); err != nil {
		return meta, ir.NewInvalidPackageError("install archive", meta.PackageHash, "extract archive", err)
	}
	return s.commitStaged(ctx, stage, meta)
}

// PromoteToCurrent makes hash the current package. The old current becomes
// previous and every other package is removed.
func (s *Store) PromoteToCurrent(ctx context.Context, hash string) error {
	var removed []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, _, err := pointers(ctx, tx)
		if err != nil {
			return err
		}

		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM packages WHERE hash = ?`, hash,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check package: %w", err)
		}
		if exists == 0 {
			return ir.NewPackageNotFoundError("promote package", hash)
		}

		if current.Valid && current.String == hash {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE status SET current_hash = ?, previous_hash = ? WHERE id = 1`,
			hash, current,
		); err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		removed, err = deleteExcept(ctx, tx, hash, current)
		return err
	})
	if err != nil {
		return wrapWriteError("promote package", err)
	}

	log.WithFields(log.Fields{"package": hash, "removed": len(removed)}).Debug("promoted package")
	s.removeDirs(removed)
	return nil
}

// RollbackToPrevious discards the current package and makes the previous
// one current. With no previous package the store ends up with no current
// package. It returns the hash that is now current, or "" if none.
//
// Calling it when no package is current is a no-op.
func (s *Store) RollbackToPrevious(ctx context.Context) (string, error) {
	var (
		discarded string
		restored  string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, previous, err := pointers(ctx, tx)
		if err != nil {
			return err
		}
		if !current.Valid {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE status SET current_hash = ?, previous_hash = NULL WHERE id = 1`,
			previous,
		); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM packages WHERE hash = ?`, current.String,
		); err != nil {
			return fmt.Errorf("delete package: %w", err)
		}

		discarded = current.String
		restored = previous.String
		return nil
	})
	if err != nil {
		return "", wrapWriteError("rollback package", err)
	}

	if discarded != "" {
		log.WithFields(log.Fields{"discarded": discarded, "restored": restored}).Debug("rolled back package")
		s.removeDirs([]string{discarded})
	}
	return restored, nil
}

// DiscardPackage removes an installed package that is neither current nor
// previous. Discarding an absent hash is a no-op.
func (s *Store) DiscardPackage(ctx context.Context, hash string) error {
	var removed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, previous, err := pointers(ctx, tx)
		if err != nil {
			return err
		}
		if current.String == hash || previous.String == hash {
			return ir.NewInvalidPackageError("discard package", hash, "package is referenced", nil)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE hash = ?`, hash)
		if err != nil {
			return fmt.Errorf("delete package: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		removed = n > 0
		return nil
	})
	if err != nil {
		return wrapWriteError("discard package", err)
	}
	if removed {
		s.removeDirs([]string{hash})
	}
	return nil
}

// PurgeAll removes every package and clears both pointers.
// Safe to call on an empty store.
func (s *Store) PurgeAll(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE status SET current_hash = NULL, previous_hash = NULL WHERE id = 1`,
		); err != nil {
			return fmt.Errorf("clear status: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM packages`); err != nil {
			return fmt.Errorf("delete packages: %w", err)
		}
		return nil
	})
	if err != nil {
		return wrapWriteError("purge packages", err)
	}

	if err := clearDir(s.packagesDir); err != nil {
		return ir.NewPersistenceError("purge packages", err)
	}
	if err := clearDir(s.stagingDir); err != nil {
		return ir.NewPersistenceError("purge packages", err)
	}
	return nil
}

// commitStaged moves a fully written staging tree under packages/ and
// inserts its metadata row.
func (s *Store) commitStaged(ctx context.Context, stage string, meta ir.PackageMetadata) (ir.PackageMetadata, error) {
	if meta.PackageHash == "" {
		hash, err := HashDirectory(stage)
		if err != nil {
			return meta, ir.NewInvalidPackageError("install package", "", "hash package contents", err)
		}
		meta.PackageHash = hash
	}
	if err := validateHash(meta.PackageHash); err != nil {
		return meta, err
	}
	if meta.BundlePath != "" {
		if !filepath.IsLocal(filepath.FromSlash(meta.BundlePath)) {
			return meta, ir.NewInvalidPackageError("install package", meta.PackageHash,
				fmt.Sprintf("bundle path %q escapes the package", meta.BundlePath), nil)
		}
		if _, err := os.Stat(filepath.Join(stage, filepath.FromSlash(meta.BundlePath))); err != nil {
			return meta, ir.NewInvalidPackageError("install package", meta.PackageHash,
				fmt.Sprintf("bundle %q not in package", meta.BundlePath), err)
		}
	}

	existing, err := s.Package(ctx, meta.PackageHash)
	if err != nil {
		return meta, err
	}
	if existing != nil {
		log.WithField("package", meta.PackageHash).Debug("package already installed")
		return *existing, nil
	}

	dest := s.PackageDir(meta.PackageHash)
	if err := os.RemoveAll(dest); err != nil {
		return meta, ir.NewPersistenceError("install package", err)
	}
	if err := os.Rename(stage, dest); err != nil {
		return meta, ir.NewPersistenceError("install package", fmt.Errorf("move staged package: %w", err))
	}
	if err := syncDir(s.packagesDir); err != nil {
		os.RemoveAll(dest)
		return meta, ir.NewPersistenceError("install package", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var seq int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(installed_seq), 0) + 1 FROM packages`,
		).Scan(&seq); err != nil {
			return fmt.Errorf("next install seq: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO packages (`+packageColumns+`, installed_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			meta.PackageHash,
			meta.DeploymentKey,
			meta.Label,
			meta.Description,
			meta.AppVersion,
			meta.BinaryModifiedTime,
			boolToInt(meta.IsPending),
			boolToInt(meta.IsMandatory),
			meta.PackageSize,
			meta.BundlePath,
			seq,
		)
		if err != nil {
			return fmt.Errorf("insert package: %w", err)
		}
		return nil
	})
	if err != nil {
		os.RemoveAll(dest)
		return meta, wrapWriteError("install package", err)
	}

	log.WithFields(log.Fields{"package": meta.PackageHash, "label": meta.Label}).Info("installed package")
	return meta, nil
}

func (s *Store) newStagingDir() (string, error) {
	dir := filepath.Join(s.stagingDir, uuid.Must(uuid.NewV7()).String())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", ir.NewPersistenceError("create staging directory", err)
	}
	return dir, nil
}

// removeDirs deletes package directories whose rows are already gone.
// Failures are logged; the next Open sweeps whatever is left.
func (s *Store) removeDirs(hashes []string) {
	for _, hash := range hashes {
		if err := os.RemoveAll(s.PackageDir(hash)); err != nil {
			log.WithError(err).WithField("package", hash).Warn("failed to remove package directory")
		}
	}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return errClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// deleteExcept removes every package row other than keep and (if valid)
// alsoKeep, returning the removed hashes.
func deleteExcept(ctx context.Context, tx *sql.Tx, keep string, alsoKeep sql.NullString) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT hash FROM packages WHERE hash != ? AND (? IS NULL OR hash != ?)`,
		keep, alsoKeep, alsoKeep)
	if err != nil {
		return nil, fmt.Errorf("query stale packages: %w", err)
	}
	var stale []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale package: %w", err)
		}
		stale = append(stale, hash)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale packages: %w", err)
	}

	for _, hash := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE hash = ?`, hash); err != nil {
			return nil, fmt.Errorf("delete package %s: %w", hash, err)
		}
	}
	return stale, nil
}

// wrapWriteError passes typed errors through and classifies the rest as
// persistence failures.
func wrapWriteError(op string, err error) error {
	if ir.CodeOf(err) != "" {
		return err
	}
	return ir.NewPersistenceError(op, err)
}

func validateHash(hash string) error {
	if hash == "." || hash == ".." || strings.ContainsAny(hash, `/\`) {
		return ir.NewInvalidPackageError("install package", hash, "hash is not a valid directory name", nil)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
