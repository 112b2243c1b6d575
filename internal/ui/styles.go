// Package ui renders CLI output with ANSI 256-color styles.
package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor || s == "" {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent styles section headers and keys.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted styles secondary detail such as timestamps and actors.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand styles a command name in help output.
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderOK styles a successful outcome.
func RenderOK(s string) string { return paint(colorOK, s) }

// RenderWarn styles a degraded outcome, e.g. a fallback to polling.
func RenderWarn(s string) string { return paint(colorWarn, s) }

// RenderFail styles a failed outcome.
func RenderFail(s string) string { return paint(colorFail, s) }

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
