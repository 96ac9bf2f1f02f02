package bridge

import (
	"context"

	"github.com/roach88/goby/internal/ir"
	"github.com/roach88/goby/internal/telemetry"
)

// CurrentPackage returns the current package with IsPending filled in
// from the pending marker, or nil if none is installed.
func (b *Bridge) CurrentPackage(ctx context.Context) (*ir.PackageMetadata, error) {
	if _, err := b.current("current package"); err != nil {
		return nil, err
	}
	meta, err := b.packages.CurrentMetadata(ctx)
	if err != nil || meta == nil {
		return nil, err
	}
	pending, err := b.settings.IsPendingUpdate(meta.PackageHash)
	if err != nil {
		return nil, err
	}
	meta.IsPending = pending
	return meta, nil
}

// IsFailedUpdate reports whether hash previously failed to boot.
func (b *Bridge) IsFailedUpdate(hash string) (bool, error) {
	if _, err := b.current("is failed update"); err != nil {
		return false, err
	}
	return b.settings.IsFailedUpdate(hash)
}

// IsFirstRun reports whether this launch is the first of package hash.
func (b *Bridge) IsFirstRun(hash string) bool {
	s, err := b.current("is first run")
	return err == nil && s.DidUpdate && hash != "" && hash == s.PackageHash
}

// IsPendingUpdate reports whether hash (or any package, for "") is
// installed but not yet loaded.
func (b *Bridge) IsPendingUpdate(hash string) (bool, error) {
	if _, err := b.current("is pending update"); err != nil {
		return false, err
	}
	return b.settings.IsPendingUpdate(hash)
}

// DeploymentReport returns the status report this session owes, or nil
// if there is nothing new to report.
func (b *Bridge) DeploymentReport(ctx context.Context) (*telemetry.Report, error) {
	s, err := b.current("deployment report")
	if err != nil {
		return nil, err
	}

	if b.NeedToReportRollback() && s.FailedPackage != nil {
		return b.reports.RollbackReport(*s.FailedPackage), nil
	}
	if s.RunningBinary {
		return b.reports.BinaryReport(s.AppVersion())
	}

	meta, err := b.packages.CurrentMetadata(ctx)
	if err != nil || meta == nil {
		return nil, err
	}
	return b.reports.UpdateReport(*meta)
}

// RecordReported marks r as delivered. Delivering a rollback report
// clears NeedToReportRollback for this session.
func (b *Bridge) RecordReported(r *telemetry.Report) error {
	if _, err := b.current("record reported"); err != nil {
		return err
	}
	if err := b.reports.RecordReported(r); err != nil {
		return err
	}
	if r != nil && r.Status == telemetry.StatusFailed {
		b.mu.Lock()
		b.rollbackReported = true
		b.mu.Unlock()
	}
	return nil
}
