package bridge

import (
	"context"
	"fmt"

	"github.com/roach88/goby/internal/ir"
)

// InstallMode says when an installed update takes effect.
type InstallMode string

const (
	// InstallImmediate restarts the runtime right after installing.
	InstallImmediate InstallMode = "immediate"
	// InstallOnNextRestart waits for the next cold start or Restart.
	InstallOnNextRestart InstallMode = "on_next_restart"
)

// ParseInstallMode parses the string form of an InstallMode.
func ParseInstallMode(s string) (InstallMode, error) {
	switch InstallMode(s) {
	case InstallImmediate, InstallOnNextRestart:
		return InstallMode(s), nil
	case "":
		return InstallOnNextRestart, nil
	default:
		return "", fmt.Errorf("unknown install mode %q", s)
	}
}

// InstallUpdate installs the package tree at srcDir.
func (b *Bridge) InstallUpdate(ctx context.Context, srcDir string, meta ir.PackageMetadata, mode InstallMode) (ir.PackageMetadata, error) {
	return b.install(ctx, mode, func(fp ir.Fingerprint) (ir.PackageMetadata, error) {
		return b.controller.Install(ctx, srcDir, b.withDeploymentKey(meta), fp)
	})
}

// InstallArchive installs a zipped package.
func (b *Bridge) InstallArchive(ctx context.Context, archivePath string, meta ir.PackageMetadata, mode InstallMode) (ir.PackageMetadata, error) {
	return b.install(ctx, mode, func(fp ir.Fingerprint) (ir.PackageMetadata, error) {
		return b.controller.InstallArchive(ctx, archivePath, b.withDeploymentKey(meta), fp)
	})
}

func (b *Bridge) install(ctx context.Context, mode InstallMode, write func(ir.Fingerprint) (ir.PackageMetadata, error)) (ir.PackageMetadata, error) {
	s, err := b.current("install update")
	if err != nil {
		return ir.PackageMetadata{}, err
	}

	stored, err := write(s.Fingerprint)
	if err != nil {
		return ir.PackageMetadata{}, err
	}

	if mode == InstallImmediate {
		if err := b.Restart(ctx); err != nil {
			return stored, err
		}
	}
	return stored, nil
}

func (b *Bridge) withDeploymentKey(meta ir.PackageMetadata) ir.PackageMetadata {
	if meta.DeploymentKey == "" {
		meta.DeploymentKey = b.cfg.DeploymentKey
	}
	return meta
}
