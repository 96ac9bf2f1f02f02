// Package settings provides durable storage for goby's update markers.
//
// Records are stored whole, as JSON values in a Pebble database:
//   - pending_update: the single PendingUpdate marker (absent when none)
//   - failed_updates: the append-only set of packages that failed to load
//   - last_deployment_report: identifier of the last reported deployment
//
// Every write uses pebble.Sync, so a record is on disk before the call
// returns. The next read may follow an uncontrolled process kill.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	log "github.com/sirupsen/logrus"

	"github.com/roach88/goby/internal/ir"
)

const (
	keyPendingUpdate  = "pending_update"
	keyFailedUpdates  = "failed_updates"
	keyLastReportedID = "last_deployment_report"
)

var errClosed = errors.New("settings store is closed")

// Store is the Pebble-backed settings store.
type Store struct {
	db *pebble.DB
}

// Open creates or opens the settings database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create settings directory %s: %w", dir, err)
	}

	db, err := pebble.Open(dir, &pebble.Options{Logger: pebbleLogger{log.WithField("component", "settings")}})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database at %s: %w", dir, err)
	}

	log.Debugf("settings database opened at %s", dir)
	return &Store{db: db}, nil
}

// OpenInMemory opens a settings store backed by an in-memory filesystem.
// Contents are lost on Close.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{
		FS:     vfs.NewMem(),
		Logger: pebbleLogger{log.WithField("component", "settings")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory settings database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// PendingUpdate returns the pending update marker, or nil if there is none.
func (s *Store) PendingUpdate() (*ir.PendingUpdate, error) {
	var pending ir.PendingUpdate
	found, err := s.get(keyPendingUpdate, &pending)
	if err != nil || !found {
		return nil, err
	}
	return &pending, nil
}

// SavePendingUpdate replaces the pending update marker.
func (s *Store) SavePendingUpdate(pending ir.PendingUpdate) error {
	if pending.Hash == "" {
		return ir.NewInvalidPackageError("save pending update", "", "pending update has no package hash", nil)
	}
	return s.put(keyPendingUpdate, pending)
}

// RemovePendingUpdate deletes the pending update marker. Deleting a
// missing marker is not an error.
func (s *Store) RemovePendingUpdate() error {
	return s.delete(keyPendingUpdate)
}

// IsPendingUpdate reports whether a pending update exists that has not
// started loading. An empty hash matches any pending package.
func (s *Store) IsPendingUpdate(hash string) (bool, error) {
	pending, err := s.PendingUpdate()
	if err != nil {
		return false, err
	}
	return pending != nil && !pending.IsLoading && (hash == "" || pending.Hash == hash), nil
}

// FailedUpdates returns the packages that previously failed to load,
// in the order they failed.
func (s *Store) FailedUpdates() ([]ir.PackageMetadata, error) {
	var failed []ir.PackageMetadata
	if _, err := s.get(keyFailedUpdates, &failed); err != nil {
		return nil, err
	}
	return failed, nil
}

// SaveFailedUpdate appends meta to the failed update record. A hash that
// is already recorded is not added twice.
func (s *Store) SaveFailedUpdate(meta ir.PackageMetadata) error {
	if meta.PackageHash == "" {
		return ir.NewInvalidPackageError("save failed update", "", "failed package has no hash", nil)
	}

	failed, err := s.FailedUpdates()
	if err != nil {
		return err
	}
	for _, f := range failed {
		if f.PackageHash == meta.PackageHash {
			return nil
		}
	}

	return s.put(keyFailedUpdates, append(failed, meta))
}

// IsFailedUpdate reports whether hash is in the failed update record.
func (s *Store) IsFailedUpdate(hash string) (bool, error) {
	failed, err := s.FailedUpdates()
	if err != nil {
		return false, err
	}
	for _, f := range failed {
		if f.PackageHash == hash {
			return true, nil
		}
	}
	return false, nil
}

// RemoveFailedUpdates clears the failed update record.
func (s *Store) RemoveFailedUpdates() error {
	return s.delete(keyFailedUpdates)
}

// LastReportedIdentifier returns the identifier of the last deployment
// status that was reported, or "" if nothing was reported yet.
func (s *Store) LastReportedIdentifier() (string, error) {
	var id string
	if _, err := s.get(keyLastReportedID, &id); err != nil {
		return "", err
	}
	return id, nil
}

// SaveReportedIdentifier records id as the last reported deployment.
func (s *Store) SaveReportedIdentifier(id string) error {
	return s.put(keyLastReportedID, id)
}

func (s *Store) get(key string, out any) (bool, error) {
	if s.db == nil {
		return false, ir.NewPersistenceError("read "+key, errClosed)
	}

	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, ir.NewPersistenceError("read "+key, err)
	}
	defer closer.Close()

	// val is only valid until closer.Close
	if err := json.Unmarshal(val, out); err != nil {
		return false, ir.NewCorruptMetadataError("read "+key, "", "stored record is not valid JSON", err)
	}
	return true, nil
}

func (s *Store) put(key string, v any) error {
	if s.db == nil {
		return ir.NewPersistenceError("write "+key, errClosed)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return ir.NewPersistenceError("write "+key, err)
	}
	return nil
}

func (s *Store) delete(key string) error {
	if s.db == nil {
		return ir.NewPersistenceError("delete "+key, errClosed)
	}
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return ir.NewPersistenceError("delete "+key, err)
	}
	return nil
}

// pebbleLogger routes Pebble's internal logging through logrus.
// Pebble's info output is demoted to debug.
type pebbleLogger struct {
	entry *log.Entry
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l pebbleLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}
