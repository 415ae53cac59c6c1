package magetasks

import (
	"github.com/magefile/mage/sh"
)

// ValidateWorkflow checks the repository workflow with the built binary.
func ValidateWorkflow() error {
	PrintH2Header("Validate workflow")
	return sh.RunV(BinPath, "validate", "--workflow", Workflow)
}

// RunWorkflow runs the repository workflow with the built binary as a push
// to main. The exit code of the failing step is reported by stepci itself.
func RunWorkflow() error {
	PrintH2Header("Run workflow")
	ran, err := sh.Exec(nil, out, out, BinPath, "run",
		"--workflow", Workflow, "--event", "push", "--branch", "main", "--source", ProjectRoot)
	if !ran {
		PrintError(BinPath + " could not be started; run mage build first")
	}
	return err
}
