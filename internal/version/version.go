// Package version holds build metadata injected via ldflags.
package version

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ServerName is reported to RPC clients during the initialize handshake.
const ServerName = "ragmcp-server"

// String formats the build metadata for --version output.
func String() string {
	return Version + " (" + Commit + ", built " + Date + ")"
}
