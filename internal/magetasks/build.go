package magetasks

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/magefile/mage/sh"
)

// BuildAll builds the stepci binary with version information.
func BuildAll() error {
	PrintH2Header("Build")

	ldflags := fmt.Sprintf("-s -w -X '%[1]s/internal/version.Version=%[2]s' -X '%[1]s/internal/version.CommitHash=%[3]s' -X '%[1]s/internal/version.BuildDate=%[4]s'",
		ModulePath, gitOutput("dev", "describe", "--tags", "--always", "--dirty", "--match=v*"),
		gitOutput("unknown", "rev-parse", "--short", "HEAD"), time.Now().UTC().Format(time.RFC3339))

	if err := sh.RunV("go", "build", "-ldflags", ldflags, "-o", BinPath, "./cmd/stepci"); err != nil {
		PrintError("Build failed")
		return err
	}
	PrintSuccess("Built " + BinPath)
	return nil
}

// Clean removes build and coverage artifacts.
func Clean() error {
	PrintH2Header("Clean")
	for _, p := range []string{"bin", CoverProfile, "htmlcov"} {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	PrintSuccess("Cleaned build artifacts")
	return nil
}

func gitOutput(fallback string, args ...string) string {
	s, err := sh.Output("git", args...)
	if err != nil || strings.TrimSpace(s) == "" {
		return fallback
	}
	return strings.TrimSpace(s)
}
