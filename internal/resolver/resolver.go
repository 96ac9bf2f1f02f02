// Package resolver picks the bundle to execute at cold start: the one
// shipped in the binary, or the current update package.
//
// Binary freshness always wins. A package captured against a different
// binary build may reference resources or native code the installed
// binary no longer has, so a fingerprint mismatch serves the binary.
package resolver

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/roach88/goby/internal/guard"
	"github.com/roach88/goby/internal/ir"
)

// DefaultBinaryBundlePrefix locates bundles shipped inside the binary.
const DefaultBinaryBundlePrefix = "assets://"

// PackageStore is the read side of the update package store.
type PackageStore interface {
	CurrentMetadata(ctx context.Context) (*ir.PackageMetadata, error)
	CurrentBundlePath(ctx context.Context, bundleName string) (string, bool, error)
}

// FailedSet reports packages that previously failed to boot.
type FailedSet interface {
	IsFailedUpdate(hash string) (bool, error)
}

// Purger clears all update state.
type Purger interface {
	ClearUpdates(ctx context.Context) error
}

// Options configures resolution.
type Options struct {
	// BinaryBundlePrefix is prepended to the bundle name to form the
	// binary bundle path. Defaults to DefaultBinaryBundlePrefix.
	BinaryBundlePrefix string

	// DebugMode enables the retain row of the superseded policy.
	DebugMode bool

	// TestConfiguration makes the Version Guard ignore the app version.
	TestConfiguration bool
}

// Resolution is the outcome of one Resolve call.
type Resolution struct {
	BundlePath    string
	Source        ir.BundleSource
	RunningBinary bool

	// PackageHash is the current package considered, if any.
	PackageHash string

	// Superseded is true when a current package existed but the binary
	// fingerprint no longer matched it.
	Superseded bool

	// Purged is true when update state was cleared as a result.
	Purged bool
}

// Resolver selects the bundle to serve.
type Resolver struct {
	packages PackageStore
	failed   FailedSet
	purger   Purger
	opts     Options
}

// New creates a resolver.
func New(packages PackageStore, failed FailedSet, purger Purger, opts Options) *Resolver {
	if opts.BinaryBundlePrefix == "" {
		opts.BinaryBundlePrefix = DefaultBinaryBundlePrefix
	}
	return &Resolver{packages: packages, failed: failed, purger: purger, opts: opts}
}

// BinaryBundlePath returns the always-available bundle inside the binary.
func (r *Resolver) BinaryBundlePath(bundleName string) string {
	return r.opts.BinaryBundlePrefix + bundleName
}

// Resolve decides which bundle to serve for this launch.
//
// Errors from the stores and corrupt metadata are returned as is; the
// caller must not fall back to a guess.
func (r *Resolver) Resolve(ctx context.Context, fp ir.Fingerprint, bundleName string) (Resolution, error) {
	res := Resolution{
		BundlePath:    r.BinaryBundlePath(bundleName),
		Source:        ir.SourceBinary,
		RunningBinary: true,
	}

	meta, err := r.packages.CurrentMetadata(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if meta == nil {
		return res, nil
	}
	res.PackageHash = meta.PackageHash

	failed, err := r.failed.IsFailedUpdate(meta.PackageHash)
	if err != nil {
		return Resolution{}, err
	}
	if failed {
		log.WithField("package", meta.PackageHash).Warn("current package previously failed, serving binary bundle")
		return res, nil
	}

	matches, err := guard.FingerprintMatches(fp, *meta, guard.Options{IgnoreAppVersion: r.opts.TestConfiguration})
	if err != nil {
		return Resolution{}, err
	}

	if matches {
		path, ok, err := r.packages.CurrentBundlePath(ctx, bundleName)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return Resolution{
				BundlePath:  path,
				Source:      ir.SourcePackage,
				PackageHash: meta.PackageHash,
			}, nil
		}
		// Current pointer vanished between the two reads.
		return res, nil
	}

	res.Superseded = true
	action := SupersededActionFor(r.opts.DebugMode, meta.AppVersion == fp.AppVersion)
	logger := log.WithFields(log.Fields{
		"package":      meta.PackageHash,
		"package_app":  meta.AppVersion,
		"binary_app":   fp.AppVersion,
		"binary_build": fp.BuildTimestamp,
		"action":       string(action),
	})
	if action == ActionPurge {
		if err := r.purger.ClearUpdates(ctx); err != nil {
			return Resolution{}, err
		}
		res.Purged = true
		logger.Info("binary supersedes update package, cleared update state")
	} else {
		logger.Info("binary supersedes update package, retaining it for debugging")
	}
	return res, nil
}
