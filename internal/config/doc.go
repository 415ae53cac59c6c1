// Package config loads stepci settings.
//
// # Configuration Precedence
//
// Values are resolved in the following order (highest to lowest priority):
//
//  1. CLI flags (--workflow, --source, --keep-workspace, ...)
//  2. Environment variables (STEPCI_WORKFLOW, STEPCI_SOURCE, ...), bound to the
//     flags by the CLI
//  3. YAML config file (.stepci.yaml in the working directory, or
//     <user config dir>/stepci/.stepci.yaml)
//  4. Hardcoded defaults
//
// Load covers levels 3 and 4. The CLI applies levels 1 and 2 on top, only for
// flags that were explicitly set.
//
// The webhook secret is never read from the file.
package config
