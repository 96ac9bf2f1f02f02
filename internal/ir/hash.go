package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainPackage = "goby/package/v1"
	DomainFile    = "goby/file/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FileHash computes the manifest entry for one file's contents.
func FileHash(contents []byte) string {
	return hashWithDomain(DomainFile, contents)
}

// PackageHash computes the content-addressed hash of a package from its
// manifest (slash-separated relative path -> FileHash of the contents).
// Identical trees always produce the same hash, regardless of walk order.
func PackageHash(manifest map[string]string) (string, error) {
	if len(manifest) == 0 {
		return "", fmt.Errorf("PackageHash: empty manifest")
	}
	canonical, err := MarshalCanonical(manifest)
	if err != nil {
		return "", fmt.Errorf("PackageHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPackage, canonical), nil
}

// MustPackageHash is like PackageHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPackageHash(manifest map[string]string) string {
	hash, err := PackageHash(manifest)
	if err != nil {
		panic(err)
	}
	return hash
}
