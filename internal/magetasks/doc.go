// Package magetasks holds the build, test and lint tasks behind magefile.go.
// The CI task builds stepci and runs this repository's own workflow with it.
package magetasks
