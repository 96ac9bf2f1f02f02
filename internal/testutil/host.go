package testutil

import (
	"sync"

	"github.com/roach88/goby/internal/ir"
)

// FakeHost is a scriptable stand-in for the embedding application.
//
// It reports a settable binary fingerprint and records every runtime
// reload request so tests can assert on restarts.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeHost struct {
	mu        sync.Mutex
	fp        ir.Fingerprint
	fpErr     error
	reloadErr error
	reloads   []string
}

// NewFakeHost creates a host whose binary has the given build timestamp
// and app version.
func NewFakeHost(buildTimestamp int64, appVersion string) *FakeHost {
	return &FakeHost{fp: ir.Fingerprint{BuildTimestamp: buildTimestamp, AppVersion: appVersion}}
}

// Fingerprint returns the current binary fingerprint, or the error set
// with FailFingerprint.
func (h *FakeHost) Fingerprint() (ir.Fingerprint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fpErr != nil {
		return ir.Fingerprint{}, h.fpErr
	}
	return h.fp, nil
}

// SetFingerprint simulates installing a new binary.
func (h *FakeHost) SetFingerprint(buildTimestamp int64, appVersion string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fp = ir.Fingerprint{BuildTimestamp: buildTimestamp, AppVersion: appVersion}
	h.fpErr = nil
}

// FailFingerprint makes Fingerprint return err until the next SetFingerprint.
func (h *FakeHost) FailFingerprint(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fpErr = err
}

// ReloadRuntime records the bundle path the runtime was asked to load.
func (h *FakeHost) ReloadRuntime(bundlePath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reloadErr != nil {
		return h.reloadErr
	}
	h.reloads = append(h.reloads, bundlePath)
	return nil
}

// FailReloads makes ReloadRuntime return err. Pass nil to recover.
func (h *FakeHost) FailReloads(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloadErr = err
}

// Reloads returns a copy of the recorded reload paths.
func (h *FakeHost) Reloads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reloads...)
}
