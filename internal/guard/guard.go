// Package guard compares the installed binary's fingerprint against the
// fingerprint captured when an update package was installed.
//
// A package is only valid for the exact binary it was installed on top of.
// Matching is exact equality, there is no fuzzy or ordered comparison.
package guard

import (
	"strconv"

	"github.com/roach88/goby/internal/ir"
)

// Options tunes the comparison.
type Options struct {
	// IgnoreAppVersion skips the app version check. Used by test
	// configurations that install packages built for another version.
	IgnoreAppVersion bool
}

// ParseBinaryModifiedTime returns the build timestamp stored in meta.
// A missing or non-integer value is a CORRUPT_METADATA error. The value
// is parsed exactly as stored.
func ParseBinaryModifiedTime(meta ir.PackageMetadata) (int64, error) {
	raw := meta.BinaryModifiedTime
	if raw == "" {
		return 0, ir.NewCorruptMetadataError("parse binary modified time", meta.PackageHash,
			"package metadata has no binary modified time", nil)
	}

	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ir.NewCorruptMetadataError("parse binary modified time", meta.PackageHash,
			"binary modified time is not an integer", err)
	}
	return ts, nil
}

// FormatBinaryModifiedTime renders a build timestamp for storage.
func FormatBinaryModifiedTime(ts int64) string {
	return strconv.FormatInt(ts, 10)
}

// FingerprintMatches reports whether meta was installed on the binary
// described by fp. Parse failures are returned, never mapped to a result.
func FingerprintMatches(fp ir.Fingerprint, meta ir.PackageMetadata, opts Options) (bool, error) {
	ts, err := ParseBinaryModifiedTime(meta)
	if err != nil {
		return false, err
	}

	if ts != fp.BuildTimestamp {
		return false, nil
	}
	return opts.IgnoreAppVersion || meta.AppVersion == fp.AppVersion, nil
}
