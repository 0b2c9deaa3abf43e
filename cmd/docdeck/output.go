package main

import (
	"fmt"
	"os"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorBold  = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// printMark writes a marked status line to stderr, keeping stdout free
// for machine-readable output.
func printMark(color, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printMark(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { printMark(colorRed, "✗", format, args...) }
func printStep(format string, args ...any)    { printMark(colorCyan, "→", format, args...) }

// printField prints an indented label/value pair under a result line.
func printField(label, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), val)
}
