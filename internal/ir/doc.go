// Package ir provides the shared data model for goby's update layer.
//
// This package contains type definitions, the error taxonomy and the
// content-addressed hashing helpers. All other internal packages import ir;
// ir imports nothing internal.
//
// Key design constraints:
//   - binaryModifiedTime is stored as the decimal string captured at install
//     and parsed on every read, so corruption surfaces as CORRUPT_METADATA
//   - All JSON tags use snake_case
//   - Package hashes use RFC 8785 canonical JSON and SHA-256 with domain
//     separation
package ir
