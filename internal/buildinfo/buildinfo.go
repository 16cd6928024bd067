// Package buildinfo holds the module's build-time version stamp,
// superseding the teacher's internal/version (a one-line, module-path-
// specific package not worth keeping verbatim).
package buildinfo

// Version is overridden at build time via -ldflags "-X ...Version=...".
var Version = "dev"
