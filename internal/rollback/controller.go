// Package rollback drives the pending-update lifecycle.
//
// A freshly installed package carries a pending marker {hash, isLoading}.
// The first launch after install flips isLoading to true before any
// update code runs. If the app confirms readiness the marker is deleted.
// If the next launch still finds isLoading=true, the previous launch never
// confirmed and the package is rolled back.
//
// Write ordering keeps every crash point recoverable:
//
//	install:  package files -> marker{isLoading:false} -> promote
//	rollback: failed record -> store rollback -> delete marker
//
// A marker whose hash is not the current package is left over from an
// interrupted install or rollback and is discarded at startup.
package rollback

import (
	"context"
	"errors"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/roach88/goby/internal/guard"
	"github.com/roach88/goby/internal/ir"
)

// Settings is the marker persistence the controller needs.
type Settings interface {
	PendingUpdate() (*ir.PendingUpdate, error)
	SavePendingUpdate(pending ir.PendingUpdate) error
	RemovePendingUpdate() error
	SaveFailedUpdate(meta ir.PackageMetadata) error
	IsFailedUpdate(hash string) (bool, error)
	RemoveFailedUpdates() error
}

// Packages is the package store the controller needs.
type Packages interface {
	CurrentMetadata(ctx context.Context) (*ir.PackageMetadata, error)
	InstallPackage(ctx context.Context, srcDir string, meta ir.PackageMetadata) (ir.PackageMetadata, error)
	InstallArchive(ctx context.Context, archivePath string, meta ir.PackageMetadata) (ir.PackageMetadata, error)
	PromoteToCurrent(ctx context.Context, hash string) error
	RollbackToPrevious(ctx context.Context) (string, error)
	DiscardPackage(ctx context.Context, hash string) error
	PurgeAll(ctx context.Context) error
}

// Options configures the controller.
type Options struct {
	DebugMode bool

	// DevBundleCachePath is the dev-server bundle cache. In debug mode it
	// is deleted before a freshly installed package first loads.
	DevBundleCachePath string
}

// Outcome is the result of Initialize.
type Outcome struct {
	State ir.LifecycleState

	// DidUpdate is true on the first launch of a newly installed package.
	DidUpdate bool

	// RollbackNeeded is true when this launch rolled back a broken update.
	RollbackNeeded bool

	// PackageHash is the hash named by the pending marker, if any.
	PackageHash string

	// FailedPackage is the metadata moved into the failed set by a rollback.
	FailedPackage *ir.PackageMetadata

	// RestoredHash is the package current after a rollback, or "" for the
	// binary bundle.
	RestoredHash string
}

// Controller runs the pending-update lifecycle.
type Controller struct {
	settings Settings
	packages Packages
	opts     Options
}

// New creates a controller.
func New(settings Settings, packages Packages, opts Options) *Controller {
	return &Controller{settings: settings, packages: packages, opts: opts}
}

// Initialize reads the pending marker at cold start and advances the
// lifecycle. It must run before the resolver.
func (c *Controller) Initialize(ctx context.Context) (Outcome, error) {
	pending, err := c.settings.PendingUpdate()
	if err != nil {
		return Outcome{}, err
	}
	if pending == nil {
		return Outcome{State: ir.StateNoPendingUpdate}, nil
	}

	current, err := c.packages.CurrentMetadata(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if current == nil || current.PackageHash != pending.Hash {
		log.WithField("package", pending.Hash).Warn("discarding pending marker for a package that is not current")
		if err := c.settings.RemovePendingUpdate(); err != nil {
			return Outcome{}, err
		}
		return Outcome{State: ir.StateNoPendingUpdate}, nil
	}

	if pending.IsLoading {
		return c.rollback(ctx, *current)
	}

	c.clearDevBundleCache()

	if err := c.settings.SavePendingUpdate(ir.PendingUpdate{Hash: pending.Hash, IsLoading: true}); err != nil {
		return Outcome{}, err
	}
	log.WithField("package", pending.Hash).Info("loading pending update for the first time")

	return Outcome{
		State:       ir.StatePendingLoading,
		DidUpdate:   true,
		PackageHash: pending.Hash,
	}, nil
}

// rollback discards a package that failed to confirm readiness.
func (c *Controller) rollback(ctx context.Context, failed ir.PackageMetadata) (Outcome, error) {
	logger := log.WithField("package", failed.PackageHash)
	logger.Warn("update did not confirm readiness before relaunch, rolling back")

	if err := c.settings.SaveFailedUpdate(failed); err != nil {
		return Outcome{}, err
	}
	restored, err := c.packages.RollbackToPrevious(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if err := c.settings.RemovePendingUpdate(); err != nil {
		return Outcome{}, err
	}

	if restored == "" {
		logger.Info("rolled back to the binary bundle")
	} else {
		logger.WithField("restored", restored).Info("rolled back to the previous package")
	}

	return Outcome{
		State:          ir.StateRolledBack,
		RollbackNeeded: true,
		PackageHash:    failed.PackageHash,
		FailedPackage:  &failed,
		RestoredHash:   restored,
	}, nil
}

// NotifyApplicationReady confirms that the current package booted.
// Safe to call when nothing is pending.
func (c *Controller) NotifyApplicationReady() (ir.LifecycleState, error) {
	pending, err := c.settings.PendingUpdate()
	if err != nil {
		return "", err
	}
	if pending == nil {
		return ir.StateNoPendingUpdate, nil
	}
	if err := c.settings.RemovePendingUpdate(); err != nil {
		return "", err
	}
	log.WithField("package", pending.Hash).Info("update confirmed")
	return ir.StateConfirmed, nil
}

// Install stores a package directory, marks it pending and makes it
// current. The binary fingerprint is stamped into the metadata here and
// nowhere else. Installing the package that is already current is a no-op.
func (c *Controller) Install(ctx context.Context, srcDir string, meta ir.PackageMetadata, fp ir.Fingerprint) (ir.PackageMetadata, error) {
	return c.install(ctx, meta, fp, func(m ir.PackageMetadata) (ir.PackageMetadata, error) {
		return c.packages.InstallPackage(ctx, srcDir, m)
	})
}

// InstallArchive is Install for a zip archive.
func (c *Controller) InstallArchive(ctx context.Context, archivePath string, meta ir.PackageMetadata, fp ir.Fingerprint) (ir.PackageMetadata, error) {
	return c.install(ctx, meta, fp, func(m ir.PackageMetadata) (ir.PackageMetadata, error) {
		return c.packages.InstallArchive(ctx, archivePath, m)
	})
}

func (c *Controller) install(ctx context.Context, meta ir.PackageMetadata, fp ir.Fingerprint, write func(ir.PackageMetadata) (ir.PackageMetadata, error)) (ir.PackageMetadata, error) {
	if meta.PackageHash != "" {
		if err := c.refuseFailed(meta.PackageHash); err != nil {
			return meta, err
		}
	}

	meta.BinaryModifiedTime = guard.FormatBinaryModifiedTime(fp.BuildTimestamp)
	if meta.AppVersion == "" {
		meta.AppVersion = fp.AppVersion
	}

	stored, err := write(meta)
	if err != nil {
		return meta, err
	}
	if err := c.refuseFailed(stored.PackageHash); err != nil {
		if discardErr := c.packages.DiscardPackage(ctx, stored.PackageHash); discardErr != nil {
			log.WithError(discardErr).WithField("package", stored.PackageHash).Warn("failed to discard known-bad package")
		}
		return meta, err
	}

	// Reinstalling the current package leaves the marker untouched.
	current, err := c.packages.CurrentMetadata(ctx)
	if err != nil {
		return meta, err
	}
	if current != nil && current.PackageHash == stored.PackageHash {
		logger := log.WithField("package", stored.PackageHash)
		if stored.BinaryModifiedTime != meta.BinaryModifiedTime {
			logger.WithFields(log.Fields{
				"stored_build": stored.BinaryModifiedTime,
				"binary_build": meta.BinaryModifiedTime,
			}).Warn("package is already current but was installed on another binary, clear updates to reinstall it")
		} else {
			logger.Debug("package is already current")
		}
		return stored, nil
	}

	if err := c.settings.SavePendingUpdate(ir.PendingUpdate{Hash: stored.PackageHash}); err != nil {
		return meta, err
	}
	if err := c.packages.PromoteToCurrent(ctx, stored.PackageHash); err != nil {
		return meta, err
	}

	log.WithFields(log.Fields{
		"package": stored.PackageHash,
		"label":   stored.Label,
	}).Info("update installed, pending first load")
	return stored, nil
}

func (c *Controller) refuseFailed(hash string) error {
	failed, err := c.settings.IsFailedUpdate(hash)
	if err != nil {
		return err
	}
	if failed {
		return ir.NewKnownBadPackageError("install package", hash)
	}
	return nil
}

// ClearUpdates removes every package, the pending marker and the failed
// set. Calling it again is a no-op.
func (c *Controller) ClearUpdates(ctx context.Context) error {
	if err := c.packages.PurgeAll(ctx); err != nil {
		return err
	}
	if err := c.settings.RemovePendingUpdate(); err != nil {
		return err
	}
	if err := c.settings.RemoveFailedUpdates(); err != nil {
		return err
	}
	log.Info("cleared all update state")
	return nil
}

// clearDevBundleCache deletes the dev-server bundle cache so it cannot
// mask a package that is about to load for the first time.
func (c *Controller) clearDevBundleCache() {
	if !c.opts.DebugMode || c.opts.DevBundleCachePath == "" {
		return
	}
	err := os.Remove(c.opts.DevBundleCachePath)
	switch {
	case err == nil:
		log.WithField("path", c.opts.DevBundleCachePath).Debug("deleted dev bundle cache")
	case !errors.Is(err, os.ErrNotExist):
		log.WithError(err).Warn("failed to delete dev bundle cache")
	}
}
