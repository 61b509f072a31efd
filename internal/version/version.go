// Package version holds build metadata set through -ldflags.
package version

// Version is overridden at build time with -X.
var Version = "dev"

// Commit is the source revision the binary was built from.
var Commit = "unknown"
