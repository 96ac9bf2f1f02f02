package resolver

// SupersededAction is what happens to update state when the installed
// binary no longer matches the current package.
type SupersededAction string

const (
	// ActionPurge clears every package, the pending marker and the failed set.
	ActionPurge SupersededAction = "purge"
	// ActionRetain keeps the package on disk; the binary is still served.
	ActionRetain SupersededAction = "retain"
)

type policyKey struct {
	debugMode      bool
	sameAppVersion bool
}

// supersededPolicy decides purge versus retain for a superseded package.
// Only a debug build whose app version is unchanged keeps its package, so
// a developer rebuilding the binary does not lose the update under test.
// Keep this table literal.
var supersededPolicy = map[policyKey]SupersededAction{
	{debugMode: false, sameAppVersion: false}: ActionPurge,
	{debugMode: false, sameAppVersion: true}:  ActionPurge,
	{debugMode: true, sameAppVersion: false}:  ActionPurge,
	{debugMode: true, sameAppVersion: true}:   ActionRetain,
}

// SupersededActionFor looks up the policy table.
func SupersededActionFor(debugMode, sameAppVersion bool) SupersededAction {
	return supersededPolicy[policyKey{debugMode: debugMode, sameAppVersion: sameAppVersion}]
}
