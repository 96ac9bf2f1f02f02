package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/roach88/goby/internal/bridge"
	"github.com/roach88/goby/internal/config"
	"github.com/roach88/goby/internal/ir"
	"github.com/roach88/goby/internal/telemetry"
	"github.com/roach88/goby/internal/testutil"
)

const dataFolder = "data"

// Harness executes one scenario against one simulated device.
type Harness struct {
	root   string
	cfg    config.Config
	host   *testutil.FakeHost
	bridge *bridge.Bridge

	// labels maps package hashes to scenario labels.
	labels map[string]string
	// fixtures counts written package sources.
	fixtures int
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh temp directory. Step errors that carry an
// error code (for example KNOWN_BAD_PACKAGE) are recorded in the trace;
// any other failure aborts the run.
func Run(scenario *Scenario) (*Result, error) {
	root, err := os.MkdirTemp("", "goby-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(root)

	cfg := config.Default()
	cfg.DataDir = filepath.Join(root, dataFolder)
	cfg.DeploymentKey = scenario.Config.DeploymentKey
	cfg.DebugMode = scenario.Config.DebugMode
	cfg.TestConfiguration = scenario.Config.TestConfiguration
	cfg.AppVersionOverride = scenario.Config.AppVersionOverride

	h := &Harness{
		root:   root,
		cfg:    cfg,
		host:   testutil.NewFakeHost(scenario.Fingerprint.BuildTimestamp, scenario.Fingerprint.AppVersion),
		labels: make(map[string]string),
	}
	defer h.shutdown()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Flow {
		out, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", i, step.Step, err)
		}
		result.AddTrace(step.Step, out)

		for _, msg := range matchExpect(out, step.Expect) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Step, msg))
		}

		log.WithFields(log.Fields{"step": i, "kind": step.Step}).Debug("scenario step completed")
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) execute(ctx context.Context, step FlowStep) (map[string]any, error) {
	switch step.Step {
	case StepLaunch:
		return h.launch(ctx)
	case StepInstall:
		return h.install(ctx, step)
	case StepConfirm:
		return h.confirm()
	case StepClear:
		return h.clear(ctx)
	case StepSetFingerprint:
		h.host.SetFingerprint(step.Fingerprint.BuildTimestamp, step.Fingerprint.AppVersion)
		return map[string]any{
			"build_timestamp": step.Fingerprint.BuildTimestamp,
			"app_version":     step.Fingerprint.AppVersion,
		}, nil
	case StepReport:
		return h.report(ctx)
	default:
		return nil, fmt.Errorf("unknown step %q", step.Step)
	}
}

// launch simulates a process kill followed by a cold start.
func (h *Harness) launch(ctx context.Context) (map[string]any, error) {
	if err := h.shutdown(); err != nil {
		return nil, err
	}

	b, err := bridge.Register(ctx, h.host, h.cfg)
	if out, handled := codedError(err); handled {
		return out, nil
	} else if err != nil {
		return nil, err
	}
	h.bridge = b

	return h.sessionResult()
}

func (h *Harness) sessionResult() (map[string]any, error) {
	s, err := h.bridge.Session()
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"source":          string(s.Source),
		"state":           string(s.State),
		"did_update":      h.bridge.DidUpdate(),
		"running_binary":  h.bridge.IsRunningBinaryVersion(),
		"rollback_needed": h.bridge.NeedToReportRollback(),
	}
	if s.PackageHash != "" {
		out["label"] = h.label(s.PackageHash)
	}
	if s.Purged {
		out["purged"] = true
	}
	return out, nil
}

func (h *Harness) install(ctx context.Context, step FlowStep) (map[string]any, error) {
	b, err := h.requireBridge()
	if err != nil {
		return nil, err
	}
	mode, err := bridge.ParseInstallMode(step.Mode)
	if err != nil {
		return nil, err
	}

	pkg := step.Package
	meta := ir.PackageMetadata{Label: pkg.Label, AppVersion: pkg.AppVersion}

	h.fixtures++
	var stored ir.PackageMetadata
	if pkg.Archive {
		path := filepath.Join(h.root, "fixture-"+strconv.Itoa(h.fixtures)+".zip")
		if err := testutil.WriteZip(path, pkg.Files); err != nil {
			return nil, fmt.Errorf("write archive fixture: %w", err)
		}
		stored, err = b.InstallArchive(ctx, path, meta, mode)
	} else {
		dir := filepath.Join(h.root, "fixture-"+strconv.Itoa(h.fixtures))
		if err := testutil.WriteTree(dir, pkg.Files); err != nil {
			return nil, fmt.Errorf("write package fixture: %w", err)
		}
		stored, err = b.InstallUpdate(ctx, dir, meta, mode)
	}

	out := map[string]any{
		"label": pkg.Label,
		"mode":  string(mode),
	}
	if coded, handled := codedError(err); handled {
		out["error"] = coded["error"]
		return out, nil
	} else if err != nil {
		return nil, err
	}

	h.labels[stored.PackageHash] = pkg.Label
	out["installed"] = true
	if mode == bridge.InstallImmediate {
		out["reloaded"] = true
	}
	return out, nil
}

func (h *Harness) confirm() (map[string]any, error) {
	b, err := h.requireBridge()
	if err != nil {
		return nil, err
	}
	err = b.NotifyApplicationReady()
	if out, handled := codedError(err); handled {
		return out, nil
	} else if err != nil {
		return nil, err
	}
	return map[string]any{"confirmed": true}, nil
}

func (h *Harness) clear(ctx context.Context) (map[string]any, error) {
	b, err := h.requireBridge()
	if err != nil {
		return nil, err
	}
	err = b.ClearUpdates(ctx)
	if out, handled := codedError(err); handled {
		return out, nil
	} else if err != nil {
		return nil, err
	}
	return map[string]any{"cleared": true}, nil
}

func (h *Harness) report(ctx context.Context) (map[string]any, error) {
	b, err := h.requireBridge()
	if err != nil {
		return nil, err
	}
	r, err := b.DeploymentReport(ctx)
	if out, handled := codedError(err); handled {
		return out, nil
	} else if err != nil {
		return nil, err
	}
	if r == nil {
		return map[string]any{"report": "none"}, nil
	}
	if err := b.RecordReported(r); err != nil {
		return nil, err
	}
	return h.reportResult(r), nil
}

func (h *Harness) reportResult(r *telemetry.Report) map[string]any {
	out := map[string]any{}
	if r.Status != "" {
		out["status"] = string(r.Status)
	}
	if r.AppVersion != "" {
		out["app_version"] = r.AppVersion
	}
	if r.Package != nil {
		out["label"] = r.Package.Label
	}
	if r.PreviousLabelOrAppVersion != "" {
		out["previous"] = r.PreviousLabelOrAppVersion
	}
	return out
}

func (h *Harness) requireBridge() (*bridge.Bridge, error) {
	if h.bridge == nil {
		return nil, fmt.Errorf("step requires a successful launch first")
	}
	return h.bridge, nil
}

// shutdown closes the running bridge, if any.
func (h *Harness) shutdown() error {
	if h.bridge == nil {
		return nil
	}
	err := h.bridge.Close()
	h.bridge = nil
	return err
}

func (h *Harness) label(hash string) string {
	if label, ok := h.labels[hash]; ok {
		return label
	}
	return hash
}

// hashFor returns the hash installed under label.
func (h *Harness) hashFor(label string) (string, bool) {
	hashes := make([]string, 0, len(h.labels))
	for hash := range h.labels {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	for _, hash := range hashes {
		if h.labels[hash] == label {
			return hash, true
		}
	}
	return "", false
}

// codedError turns an error carrying an error code into a trace result.
func codedError(err error) (map[string]any, bool) {
	if err == nil {
		return nil, false
	}
	code := ir.CodeOf(err)
	if code == "" {
		return nil, false
	}
	return map[string]any{"error": string(code)}, true
}
