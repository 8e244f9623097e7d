// Package version provides version information for the oracle-engine application.
package version

// Version is the current version of the oracle-engine application.
const Version = "1.1.0"

// AgentString returns the full agent string with versioning.
// Format: oracle-engine/v{version}
func AgentString() string {
	return "oracle-engine/v" + Version
}
