package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
)

var (
	// Check if output supports colors
	supportsColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	// Color functions
	ColorSuccess  = colorFunc(ansi.Green)
	ColorError    = colorFunc(ansi.Red)
	ColorWarning  = colorFunc(ansi.Yellow)
	ColorInfo     = colorFunc(ansi.Cyan)
	ColorProgress = colorFunc(ansi.Blue)
	ColorBold     = colorFunc("default+b")
	ColorDim      = colorFunc("default+h")
)

// colorFunc returns a function that colors text if supported
func colorFunc(style string) func(string) string {
	return func(text string) string {
		if supportsColor {
			return ansi.Color(text, style)
		}
		return text
	}
}

// SetColor forces colored output on or off
func SetColor(enabled bool) {
	supportsColor = enabled
	color.NoColor = !enabled
}

// ColorEnabled reports whether output is colored
func ColorEnabled() bool {
	return supportsColor
}

// ShowHeader displays a formatted header
func ShowHeader(w io.Writer, title string) {
	width := 50
	padding := (width - len(title) - 2) / 2
	if padding < 0 {
		padding = 0
	}
	right := width - 2 - padding - len(title)
	if right < 0 {
		right = 0
	}

	fmt.Fprintln(w, "\n+"+strings.Repeat("-", width-2)+"+")
	fmt.Fprintf(w, "|%s%s%s|\n",
		strings.Repeat(" ", padding),
		ColorBold(title),
		strings.Repeat(" ", right),
	)
	fmt.Fprintln(w, "+"+strings.Repeat("-", width-2)+"+")
}

// ShowSuccess displays a success message
func ShowSuccess(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", ColorSuccess("SUCCESS:"), message)
}

// ShowWarning displays a warning message
func ShowWarning(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", ColorWarning("WARNING:"), ColorWarning(message))
}

// ShowInfo displays an info message
func ShowInfo(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", ColorInfo("INFO:"), message)
}

// PrintSection prints a section header
func PrintSection(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s %s\n", ColorBold("▶"), ColorBold(title))
	fmt.Fprintln(w, strings.Repeat("─", 50))
}

// PrintKeyValue prints a key-value pair in a formatted way
func PrintKeyValue(w io.Writer, key, value string) {
	fmt.Fprintf(w, "  %-20s %s\n", ColorDim(key+":"), value)
}

// PrintSQL prints generated SQL for audit
func PrintSQL(w io.Writer, sql string) {
	for _, line := range strings.Split(sql, "\n") {
		fmt.Fprintf(w, "  %s\n", ColorInfo(line))
	}
}
