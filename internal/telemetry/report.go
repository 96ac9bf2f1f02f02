// Package telemetry builds deployment status reports. Sending them is the
// job of an external transport.
//
// Reports are de-duplicated by the last reported identifier: an update
// package is identified as "deploymentKey:label", a binary run by its app
// version.
package telemetry

import (
	"strings"

	"github.com/roach88/goby/internal/ir"
)

// Status is the deployment outcome carried by a report.
type Status string

const (
	StatusSucceeded Status = "DeploymentSucceeded"
	StatusFailed    Status = "DeploymentFailed"
)

// Report is one deployment status report.
type Report struct {
	AppVersion string              `json:"app_version,omitempty"`
	Package    *ir.PackageMetadata `json:"package,omitempty"`
	Status     Status              `json:"status,omitempty"`

	PreviousDeploymentKey     string `json:"previous_deployment_key,omitempty"`
	PreviousLabelOrAppVersion string `json:"previous_label_or_app_version,omitempty"`
}

// IdentifierStore persists the last reported identifier.
type IdentifierStore interface {
	LastReportedIdentifier() (string, error)
	SaveReportedIdentifier(id string) error
}

// Builder builds reports and remembers what was already reported.
type Builder struct {
	store IdentifierStore
}

// NewBuilder creates a builder backed by store.
func NewBuilder(store IdentifierStore) *Builder {
	return &Builder{store: store}
}

// Identifier returns the de-duplication key of a package.
func Identifier(meta ir.PackageMetadata) string {
	return meta.DeploymentKey + ":" + meta.Label
}

// RollbackReport reports a package that failed to boot. Rollbacks are
// always reported.
func (b *Builder) RollbackReport(failed ir.PackageMetadata) *Report {
	return &Report{Package: &failed, Status: StatusFailed}
}

// UpdateReport reports the current package once per identifier.
// It returns nil when the package was already reported.
func (b *Builder) UpdateReport(current ir.PackageMetadata) (*Report, error) {
	id := Identifier(current)
	prev, err := b.store.LastReportedIdentifier()
	if err != nil {
		return nil, err
	}
	if prev == id {
		return nil, nil
	}

	r := &Report{Package: &current, Status: StatusSucceeded}
	r.setPrevious(prev)
	return r, nil
}

// BinaryReport reports running the binary bundle once per app version.
// It returns nil when that version was already reported.
func (b *Builder) BinaryReport(appVersion string) (*Report, error) {
	prev, err := b.store.LastReportedIdentifier()
	if err != nil {
		return nil, err
	}
	if prev == appVersion {
		return nil, nil
	}

	r := &Report{AppVersion: appVersion}
	r.setPrevious(prev)
	return r, nil
}

// RecordReported marks r as delivered. Failure reports are not recorded,
// so the next successful deployment is still reported against the last
// good one.
func (b *Builder) RecordReported(r *Report) error {
	if r == nil || r.Status == StatusFailed {
		return nil
	}
	if r.Package != nil {
		return b.store.SaveReportedIdentifier(Identifier(*r.Package))
	}
	return b.store.SaveReportedIdentifier(r.AppVersion)
}

func (r *Report) setPrevious(prev string) {
	if prev == "" {
		return
	}
	if key, label, ok := strings.Cut(prev, ":"); ok {
		r.PreviousDeploymentKey = key
		r.PreviousLabelOrAppVersion = label
		return
	}
	r.PreviousLabelOrAppVersion = prev
}
