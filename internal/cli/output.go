package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

const rule = "═══════════════════════════════════════════════════════════"

// printBanner writes a titled section header to stderr
func printBanner(title string) {
	fmt.Fprintln(os.Stderr)
	cyan.Fprintln(os.Stderr, rule)
	cyan.Fprintf(os.Stderr, "  %s\n", title)
	cyan.Fprintln(os.Stderr, rule)
	fmt.Fprintln(os.Stderr)
}

// printField writes an aligned "label: value" line under a banner
func printField(label string, value any) {
	fmt.Fprintf(os.Stderr, "  %-14s %v\n", label+":", value)
}

func printSuccess(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(os.Stderr, msg)
}

func printWarning(format string, a ...any) {
	yellow.Fprintf(os.Stderr, "⚠️  "+format, a...)
}

func printFailure(format string, a ...any) {
	red.Fprintf(os.Stderr, "✗ "+format, a...)
}
