package ir

// Fingerprint identifies the installed application binary.
// It only changes when the binary is reinstalled or upgraded.
type Fingerprint struct {
	BuildTimestamp int64  `json:"build_timestamp"`
	AppVersion     string `json:"app_version"`
}

// PackageMetadata describes an installed update package.
// Records are immutable once written.
type PackageMetadata struct {
	PackageHash string `json:"package_hash"` // Content-addressed identifier

	// BinaryModifiedTime is the binary build timestamp captured at install,
	// kept as a decimal string. Empty means it was never recorded.
	BinaryModifiedTime string `json:"binary_modified_time"`

	AppVersion    string `json:"app_version"`
	IsPending     bool   `json:"is_pending"`
	DeploymentKey string `json:"deployment_key"`
	Label         string `json:"label,omitempty"`
	Description   string `json:"description,omitempty"`
	IsMandatory   bool   `json:"is_mandatory,omitempty"`
	PackageSize   int64  `json:"package_size,omitempty"`

	// BundlePath is the bundle location relative to the package directory.
	// Empty means the bundle sits at the package root under its file name.
	BundlePath string `json:"bundle_path,omitempty"`
}

// PendingUpdate is the marker for an installed package that has not yet
// confirmed a successful boot.
type PendingUpdate struct {
	Hash      string `json:"hash"`
	IsLoading bool   `json:"is_loading"`
}

// LifecycleState is the pending-update lifecycle state at startup.
type LifecycleState string

const (
	StateNoPendingUpdate   LifecycleState = "NoPendingUpdate"
	StatePendingNotLoading LifecycleState = "PendingNotLoading"
	StatePendingLoading    LifecycleState = "PendingLoading"
	StateConfirmed         LifecycleState = "Confirmed"
	StateRolledBack        LifecycleState = "RolledBack"
)

// BundleSource says where the served bundle comes from.
type BundleSource string

const (
	SourceBinary  BundleSource = "binary"
	SourcePackage BundleSource = "package"
)
