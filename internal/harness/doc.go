// Package harness runs YAML conformance scenarios against a real Bridge.
//
// A scenario is a sequence of steps over one simulated device: cold
// starts, update installs, readiness confirmations, binary upgrades and
// status reports. Every cold start closes the running Bridge and
// registers a new one over the same data directory, so all state crosses
// the boundary through the durable stores exactly as it would across a
// process kill.
//
// # Steps
//
//	launch           cold start (Register)
//	install          install a package: label, files, archive, mode
//	confirm          NotifyApplicationReady
//	clear            ClearUpdates
//	set_fingerprint  replace the binary fingerprint (reinstall/upgrade)
//	report           build and record the deployment status report
//
// Each step produces one trace event. Packages appear in traces by label,
// never by path or hash, so traces are stable across machines.
//
// # Assertions
//
//	current_package  label of the current package, or none: true
//	failed_contains  label is in the failed update set
//	pending_update   pending: true|false
//	store_empty      no package is installed
//
// # Golden Files
//
// RunWithGolden compares the canonical JSON trace with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
