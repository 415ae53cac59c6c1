package magetasks

import (
	"os"
	"path/filepath"
)

var (
	// ModulePath is the Go module path.
	ModulePath = "github.com/dkoosis/stepci"

	// BinPath is the output path of the stepci binary.
	BinPath = "./bin/stepci"

	// Workflow is the workflow the CI task runs.
	Workflow = ".github/workflows/ci.yml"

	// CoverProfile is where TestCoverage writes the Go cover profile.
	CoverProfile = "coverage.out"

	// ProjectRoot is the root directory of the project.
	ProjectRoot string
)

// Initialize sets up the magetasks package.
// Call this from the Magefile init() function.
func Initialize() error {
	var err error
	ProjectRoot, err = os.Getwd()
	if err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(ProjectRoot, "bin"), 0o750)
}
