// Package preflight checks the filesystem paths and external services
// storyloom depends on.
//
// The daemon runs RunAll at startup and refuses to start when a fatal check
// (a data, log, artifact or source directory) fails; provider and catalog
// checks only warn because those services may recover on their own. The
// "storyloom check" command prints every result.
package preflight
