package magetasks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/magefile/mage/sh"
)

const golangciDisabled = "--disable=exhaustruct,varnamelen,ireturn,wrapcheck,nlreturn,gochecknoglobals,mnd,depguard,tagalign"

// LintAll runs gofmt, go vet and, when installed, golangci-lint.
func LintAll() error {
	PrintH2Header("Lint")
	var errs []error
	if err := LintFormat(); err != nil {
		errs = append(errs, err)
	}
	if err := LintVet(); err != nil {
		errs = append(errs, err)
	}
	if err := LintGolangci(); err != nil && !IsCommandNotFound(err) {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	PrintSuccess("All linters passed")
	return nil
}

// LintFormat fails when any file is not gofmt-clean.
func LintFormat() error {
	files, err := sh.Output("gofmt", "-l", "cmd", "internal", "pkg")
	if err != nil {
		return err
	}
	if files = strings.TrimSpace(files); files != "" {
		PrintError("Files need gofmt:\n" + files)
		return fmt.Errorf("%d file(s) not formatted", len(strings.Split(files, "\n")))
	}
	return nil
}

// LintVet runs go vet.
func LintVet() error {
	return sh.RunV("go", "vet", "./...")
}

// LintGolangci runs golangci-lint.
func LintGolangci() error {
	err := sh.RunV("golangci-lint", "run", golangciDisabled, "--timeout=5m", "./...")
	if err != nil && IsCommandNotFound(err) {
		PrintWarning("golangci-lint not found (install: go install github.com/golangci/golangci-lint/cmd/golangci-lint@latest)")
	}
	return err
}

// LintGolangciFix runs golangci-lint with auto-fixes.
func LintGolangciFix() error {
	return sh.RunV("golangci-lint", "run", "--fix", golangciDisabled, "--timeout=5m", "./...")
}
