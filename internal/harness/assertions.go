package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the final state.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		if h.bridge == nil {
			err = fmt.Errorf("assertion[%d]: %s requires a launched app", i, assertion.Type)
			errors = append(errors, err.Error())
			continue
		}

		switch assertion.Type {
		case AssertCurrentPackage:
			err = assertCurrentPackage(ctx, h, assertion)
		case AssertFailedContains:
			err = assertFailedContains(h, assertion)
		case AssertPendingUpdate:
			err = assertPendingUpdate(h, assertion)
		case AssertStoreEmpty:
			err = assertStoreEmpty(ctx, h)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func assertCurrentPackage(ctx context.Context, h *Harness, a Assertion) error {
	cur, err := h.bridge.CurrentPackage(ctx)
	if err != nil {
		return fmt.Errorf("current_package: %w", err)
	}

	actual := "none"
	if cur != nil {
		actual = h.label(cur.PackageHash)
	}
	expected := a.Label
	if a.None {
		expected = "none"
	}
	if actual != expected {
		return &AssertionError{Type: AssertCurrentPackage, Expected: expected, Actual: actual}
	}
	return nil
}

func assertFailedContains(h *Harness, a Assertion) error {
	hash, ok := h.hashFor(a.Label)
	if !ok {
		return &AssertionError{
			Type:     AssertFailedContains,
			Expected: fmt.Sprintf("%q in failed set", a.Label),
			Actual:   fmt.Sprintf("%q was never installed", a.Label),
		}
	}
	failed, err := h.bridge.IsFailedUpdate(hash)
	if err != nil {
		return fmt.Errorf("failed_contains: %w", err)
	}
	if !failed {
		return &AssertionError{
			Type:     AssertFailedContains,
			Expected: fmt.Sprintf("%q in failed set", a.Label),
			Actual:   "not in failed set",
		}
	}
	return nil
}

func assertPendingUpdate(h *Harness, a Assertion) error {
	pending, err := h.bridge.IsPendingUpdate("")
	if err != nil {
		return fmt.Errorf("pending_update: %w", err)
	}
	if pending != *a.Pending {
		return &AssertionError{
			Type:     AssertPendingUpdate,
			Expected: fmt.Sprintf("pending=%v", *a.Pending),
			Actual:   fmt.Sprintf("pending=%v", pending),
		}
	}
	return nil
}

// assertStoreEmpty checks both the metadata and the package directories.
func assertStoreEmpty(ctx context.Context, h *Harness) error {
	cur, err := h.bridge.CurrentPackage(ctx)
	if err != nil {
		return fmt.Errorf("store_empty: %w", err)
	}
	if cur != nil {
		return &AssertionError{Type: AssertStoreEmpty, Expected: "no current package", Actual: h.label(cur.PackageHash)}
	}

	dir := filepath.Join(h.cfg.DataDir, "packages", "packages")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("store_empty: %w", err)
	}
	if len(entries) > 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, h.label(e.Name()))
		}
		sort.Strings(names)
		return &AssertionError{Type: AssertStoreEmpty, Expected: "no package directories", Actual: strings.Join(names, ", ")}
	}
	return nil
}

// matchExpect checks expected fields against a step result (subset match).
func matchExpect(actual map[string]any, expected map[string]interface{}) []string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, key := range keys {
		want := normalizeValue(expected[key])
		got, exists := actual[key]
		if !exists {
			mismatches = append(mismatches, fmt.Sprintf("expected %s=%v, field missing", key, want))
			continue
		}
		if !valuesEqual(got, want) {
			mismatches = append(mismatches, fmt.Sprintf("expected %s=%v, got %v", key, want, got))
		}
	}
	return mismatches
}

// normalizeValue widens YAML integers to int64, matching trace results.
func normalizeValue(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return int64(n)
	default:
		return v
	}
}

// valuesEqual compares two values for equality.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}
	return reflect.DeepEqual(actual, expected)
}
