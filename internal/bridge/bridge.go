// Package bridge is the single registration point between the host
// application and the update core. The host creates one Bridge at process
// start with Register and keeps it for the process lifetime; nothing in
// the core reaches for it globally.
package bridge

import (
	"context"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/roach88/goby/internal/config"
	"github.com/roach88/goby/internal/ir"
	"github.com/roach88/goby/internal/resolver"
	"github.com/roach88/goby/internal/rollback"
	"github.com/roach88/goby/internal/session"
	"github.com/roach88/goby/internal/settings"
	"github.com/roach88/goby/internal/store"
	"github.com/roach88/goby/internal/telemetry"
)

const (
	settingsFolder = "settings"
	packagesFolder = "packages"
)

// Host is what the embedding application provides.
type Host interface {
	// Fingerprint reads the installed binary's build timestamp and version.
	Fingerprint() (ir.Fingerprint, error)

	// ReloadRuntime restarts the interpreted runtime on bundlePath.
	ReloadRuntime(bundlePath string) error
}

// Bridge exposes the update operations to the host.
type Bridge struct {
	host Host
	cfg  config.Config

	settings   *settings.Store
	packages   *store.Store
	controller *rollback.Controller
	resolver   *resolver.Resolver
	reports    *telemetry.Builder

	mu               sync.RWMutex
	session          *session.Session
	rollbackReported bool
	closed           bool
}

// Register opens the stores under cfg.DataDir and runs the startup
// resolution. It must be called before any update code executes.
func Register(ctx context.Context, host Host, cfg config.Config) (*Bridge, error) {
	if host == nil {
		return nil, ir.NewConfigurationError("register", "host is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := settings.Open(filepath.Join(cfg.DataDir, settingsFolder))
	if err != nil {
		return nil, ir.NewPersistenceError("open settings", err)
	}
	pk, err := store.Open(filepath.Join(cfg.DataDir, packagesFolder))
	if err != nil {
		st.Close()
		return nil, ir.NewPersistenceError("open package store", err)
	}

	ctrl := rollback.New(st, pk, rollback.Options{
		DebugMode:          cfg.DebugMode,
		DevBundleCachePath: cfg.DevBundleCachePath,
	})
	b := &Bridge{
		host:       host,
		cfg:        cfg,
		settings:   st,
		packages:   pk,
		controller: ctrl,
		resolver: resolver.New(pk, st, ctrl, resolver.Options{
			BinaryBundlePrefix: cfg.BinaryBundlePrefix,
			DebugMode:          cfg.DebugMode,
			TestConfiguration:  cfg.TestConfiguration,
		}),
		reports: telemetry.NewBuilder(st),
	}

	if err := b.start(ctx); err != nil {
		b.closeStores()
		return nil, err
	}
	log.WithFields(log.Fields{
		"version":  ir.LibraryVersion,
		"data_dir": cfg.DataDir,
	}).Debug("update layer registered")
	return b, nil
}

// start runs one startup resolution and swaps in the new session.
func (b *Bridge) start(ctx context.Context) error {
	s, err := session.Start(ctx, session.Deps{
		Host:               b.host,
		Lifecycle:          b.controller,
		Selector:           b.resolver,
		AppVersionOverride: b.cfg.AppVersionOverride,
	}, b.cfg.BundleName)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.session = s
	b.rollbackReported = false
	b.mu.Unlock()
	return nil
}

// current returns the live session or a not-initialized error.
func (b *Bridge) current(op string) (*session.Session, error) {
	if b == nil {
		return nil, ir.NewNotInitializedError(op)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || b.session == nil {
		return nil, ir.NewNotInitializedError(op)
	}
	return b.session, nil
}

// Session returns the result of the latest startup resolution.
func (b *Bridge) Session() (*session.Session, error) {
	return b.current("session")
}

// ResolveBundlePath returns the bundle the runtime must load.
func (b *Bridge) ResolveBundlePath() (string, error) {
	s, err := b.current("resolve bundle path")
	if err != nil {
		return "", err
	}
	return s.BundlePath, nil
}

// NotifyApplicationReady confirms the running update booted.
func (b *Bridge) NotifyApplicationReady() error {
	if _, err := b.current("notify application ready"); err != nil {
		return err
	}
	_, err := b.controller.NotifyApplicationReady()
	return err
}

// ClearUpdates removes all update state. The running session is not
// affected until the next start.
func (b *Bridge) ClearUpdates(ctx context.Context) error {
	if _, err := b.current("clear updates"); err != nil {
		return err
	}
	return b.controller.ClearUpdates(ctx)
}

// DidUpdate reports whether this launch is the first one of a new update.
func (b *Bridge) DidUpdate() bool {
	s, err := b.current("did update")
	return err == nil && s.DidUpdate
}

// IsRunningBinaryVersion reports whether the binary bundle is being served.
func (b *Bridge) IsRunningBinaryVersion() bool {
	s, err := b.current("is running binary version")
	return err == nil && s.RunningBinary
}

// NeedToReportRollback reports whether this launch rolled back an update
// that has not been reported yet. RecordReported resets it.
func (b *Bridge) NeedToReportRollback() bool {
	s, err := b.current("need to report rollback")
	if err != nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return s.RollbackNeeded && !b.rollbackReported
}

// AppVersion returns the effective app version.
func (b *Bridge) AppVersion() string {
	s, err := b.current("app version")
	if err != nil {
		return ""
	}
	return s.AppVersion()
}

// ServerURL returns the update server the external transport talks to.
func (b *Bridge) ServerURL() (string, error) {
	if _, err := b.current("server url"); err != nil {
		return "", err
	}
	return b.cfg.ServerURL, nil
}

// Restart runs a fresh startup resolution and reloads the runtime on the
// resulting bundle.
func (b *Bridge) Restart(ctx context.Context) error {
	if _, err := b.current("restart"); err != nil {
		return err
	}
	if err := b.start(ctx); err != nil {
		return err
	}
	s, err := b.current("restart")
	if err != nil {
		return err
	}
	log.WithField("bundle", s.BundlePath).Info("reloading runtime")
	return b.host.ReloadRuntime(s.BundlePath)
}

// Close releases the stores. Later calls fail with NOT_INITIALIZED.
func (b *Bridge) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.closeStores()
}

func (b *Bridge) closeStores() error {
	err := b.packages.Close()
	if serr := b.settings.Close(); err == nil {
		err = serr
	}
	return err
}
