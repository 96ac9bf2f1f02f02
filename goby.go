// Package goby is the embedding surface of the update layer. A host
// application loads a Config, calls Register once at process start and
// asks the returned Bridge which bundle to run.
package goby

import (
	"context"

	"github.com/roach88/goby/internal/bridge"
	"github.com/roach88/goby/internal/config"
	"github.com/roach88/goby/internal/ir"
	"github.com/roach88/goby/internal/telemetry"
)

type (
	Bridge          = bridge.Bridge
	Host            = bridge.Host
	InstallMode     = bridge.InstallMode
	Config          = config.Config
	Fingerprint     = ir.Fingerprint
	PackageMetadata = ir.PackageMetadata
	Error           = ir.Error
	ErrorCode       = ir.ErrorCode
	Report          = telemetry.Report
)

const (
	InstallImmediate     = bridge.InstallImmediate
	InstallOnNextRestart = bridge.InstallOnNextRestart
)

// Register opens the update state under cfg.DataDir and resolves the
// bundle for this launch.
func Register(ctx context.Context, host Host, cfg Config) (*Bridge, error) {
	return bridge.Register(ctx, host, cfg)
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the defaults. DataDir must still be set.
func DefaultConfig() Config {
	return config.Default()
}

// InitLog configures the process logger.
func InitLog(level, path string) error {
	return config.InitLog(level, path)
}

// CodeOf returns the error code carried by err, or "" if none.
func CodeOf(err error) ErrorCode {
	return ir.CodeOf(err)
}
