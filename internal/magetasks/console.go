package magetasks

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dkoosis/stepci/internal/render"
)

// out is where task headers and results go.
var out io.Writer = os.Stdout

// PrintH1Header prints a top-level header with decoration.
func PrintH1Header(title string) {
	st := render.NewStyles(out)
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(out)
	fmt.Fprintln(out, st.Header.Render(rule))
	fmt.Fprintln(out, st.Header.Render(strings.Repeat(" ", max(0, (60-len(title))/2))+title))
	fmt.Fprintln(out, st.Header.Render(rule))
}

// PrintH2Header prints a section header.
func PrintH2Header(title string) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, render.NewStyles(out).Header.Render("=== "+title+" ==="))
}

// PrintSuccess prints a success message.
func PrintSuccess(msg string) {
	fmt.Fprintln(out, render.NewStyles(out).Success.Render("✓ "+msg))
}

// PrintWarning prints a warning message.
func PrintWarning(msg string) {
	fmt.Fprintln(out, render.NewStyles(out).Warn.Render("! "+msg))
}

// PrintError prints an error message.
func PrintError(msg string) {
	fmt.Fprintln(out, render.NewStyles(out).Error.Render("✗ "+msg))
}
