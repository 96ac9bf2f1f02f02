package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/goby/internal/bridge"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Fingerprint is the binary fingerprint at the first launch.
	Fingerprint FingerprintSpec `yaml:"fingerprint"`

	// Config overrides the defaults used to register the bridge.
	Config ConfigSpec `yaml:"config,omitempty"`

	// Flow is the ordered list of steps.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// FingerprintSpec is a binary fingerprint in YAML form.
type FingerprintSpec struct {
	BuildTimestamp int64  `yaml:"build_timestamp"`
	AppVersion     string `yaml:"app_version"`
}

// ConfigSpec holds the configuration knobs scenarios may set.
type ConfigSpec struct {
	DeploymentKey      string `yaml:"deployment_key,omitempty"`
	DebugMode          bool   `yaml:"debug_mode,omitempty"`
	TestConfiguration  bool   `yaml:"test_configuration,omitempty"`
	AppVersionOverride string `yaml:"app_version_override,omitempty"`
}

// PackageSpec describes a package to install.
type PackageSpec struct {
	// Label names the package in traces and assertions.
	Label string `yaml:"label"`

	// Files maps relative paths to contents.
	Files map[string]string `yaml:"files"`

	// Archive installs the files from a zip archive.
	Archive bool `yaml:"archive,omitempty"`

	// AppVersion overrides the app version recorded for the package.
	AppVersion string `yaml:"app_version,omitempty"`
}

// FlowStep is one step of a scenario.
type FlowStep struct {
	// Step is the step kind (see Step* constants).
	Step string `yaml:"step"`

	// Package is required by install.
	Package *PackageSpec `yaml:"package,omitempty"`

	// Mode is the install mode for install; defaults to on_next_restart.
	Mode string `yaml:"mode,omitempty"`

	// Fingerprint is required by set_fingerprint.
	Fingerprint *FingerprintSpec `yaml:"fingerprint,omitempty"`

	// Expect is a subset match against the step's trace result.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Step kinds.
const (
	StepLaunch         = "launch"
	StepInstall        = "install"
	StepConfirm        = "confirm"
	StepClear          = "clear"
	StepSetFingerprint = "set_fingerprint"
	StepReport         = "report"
)

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Label names a package (current_package, failed_contains).
	Label string `yaml:"label,omitempty"`

	// None asserts that no package is current (current_package).
	None bool `yaml:"none,omitempty"`

	// Pending is the expected marker state (pending_update).
	Pending *bool `yaml:"pending,omitempty"`
}

// Assertion type constants.
const (
	AssertCurrentPackage = "current_package"
	AssertFailedContains = "failed_contains"
	AssertPendingUpdate  = "pending_update"
	AssertStoreEmpty     = "store_empty"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step *FlowStep) error {
	switch step.Step {
	case StepLaunch, StepConfirm, StepClear, StepReport:
	case StepInstall:
		if step.Package == nil {
			return fmt.Errorf("flow[%d]: package is required for install", index)
		}
		if step.Package.Label == "" {
			return fmt.Errorf("flow[%d]: package.label is required", index)
		}
		if len(step.Package.Files) == 0 {
			return fmt.Errorf("flow[%d]: package.files must be non-empty", index)
		}
		if _, err := bridge.ParseInstallMode(step.Mode); err != nil {
			return fmt.Errorf("flow[%d]: %w", index, err)
		}
	case StepSetFingerprint:
		if step.Fingerprint == nil {
			return fmt.Errorf("flow[%d]: fingerprint is required for set_fingerprint", index)
		}
	case "":
		return fmt.Errorf("flow[%d]: step is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown step %q", index, step.Step)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCurrentPackage:
		if a.Label == "" && !a.None {
			return fmt.Errorf("assertions[%d]: label or none is required for current_package", index)
		}
		if a.Label != "" && a.None {
			return fmt.Errorf("assertions[%d]: label and none are exclusive", index)
		}
	case AssertFailedContains:
		if a.Label == "" {
			return fmt.Errorf("assertions[%d]: label is required for failed_contains", index)
		}
	case AssertPendingUpdate:
		if a.Pending == nil {
			return fmt.Errorf("assertions[%d]: pending is required for pending_update", index)
		}
	case AssertStoreEmpty:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
