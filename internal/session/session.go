// Package session runs the once-per-process startup resolution and
// returns its result as an immutable value.
package session

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/roach88/goby/internal/ir"
	"github.com/roach88/goby/internal/resolver"
	"github.com/roach88/goby/internal/rollback"
)

// FingerprintSource reads the installed binary's fingerprint.
type FingerprintSource interface {
	Fingerprint() (ir.Fingerprint, error)
}

// Lifecycle advances the pending-update lifecycle at cold start.
type Lifecycle interface {
	Initialize(ctx context.Context) (rollback.Outcome, error)
}

// Selector picks the bundle to serve.
type Selector interface {
	Resolve(ctx context.Context, fp ir.Fingerprint, bundleName string) (resolver.Resolution, error)
}

// Deps are the collaborators of Start.
type Deps struct {
	Host      FingerprintSource
	Lifecycle Lifecycle
	Selector  Selector

	// AppVersionOverride replaces the version reported by the binary.
	AppVersionOverride string
}

// Session is the result of one startup resolution. It is never mutated
// after Start returns.
type Session struct {
	ID          string
	Fingerprint ir.Fingerprint
	BundleName  string

	BundlePath    string
	Source        ir.BundleSource
	RunningBinary bool

	// PackageHash is the package being served, or "" for the binary.
	PackageHash string

	State          ir.LifecycleState
	DidUpdate      bool
	RollbackNeeded bool
	FailedPackage  *ir.PackageMetadata

	Superseded bool
	Purged     bool
}

// AppVersion is the effective app version for this session.
func (s *Session) AppVersion() string {
	return s.Fingerprint.AppVersion
}

// Start reads the binary fingerprint, runs the lifecycle controller and
// then the resolver.
func Start(ctx context.Context, deps Deps, bundleName string) (*Session, error) {
	fp, err := deps.Host.Fingerprint()
	if err != nil {
		return nil, ir.NewConfigurationError("read binary fingerprint", "package info unreadable", err)
	}
	if deps.AppVersionOverride != "" {
		fp.AppVersion = deps.AppVersionOverride
	}

	outcome, err := deps.Lifecycle.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	res, err := deps.Selector.Resolve(ctx, fp, bundleName)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Fingerprint:    fp,
		BundleName:     bundleName,
		BundlePath:     res.BundlePath,
		Source:         res.Source,
		RunningBinary:  res.RunningBinary,
		State:          outcome.State,
		DidUpdate:      outcome.DidUpdate,
		RollbackNeeded: outcome.RollbackNeeded,
		FailedPackage:  outcome.FailedPackage,
		Superseded:     res.Superseded,
		Purged:         res.Purged,
	}
	if res.Source == ir.SourcePackage {
		s.PackageHash = res.PackageHash
	}
	// An update that is not being served did not update anything.
	if res.RunningBinary {
		s.DidUpdate = false
	}

	log.WithFields(log.Fields{
		"session":        s.ID,
		"source":         string(s.Source),
		"package":        s.PackageHash,
		"state":          string(s.State),
		"did_update":     s.DidUpdate,
		"rollback":       s.RollbackNeeded,
		"binary_version": fp.AppVersion,
	}).Info("resolved bundle")
	return s, nil
}
