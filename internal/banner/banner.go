// Package banner prints the startup summary.
package banner

import (
	"fmt"
	"io"
	"strings"
)

const rule = "======================================================================"

const logo = `
 __   __    _          ___      _    _
 \ \ / /__ (_)__ ___  | _ )_ _ (_)__| |__ _ ___
  \ V / _ \| / _/ -_) | _ \ '_|| / _' / _' / -_)
   \_/\___/|_\__\___| |___/_|  |_\__,_\__, \___|
                                      |___/`

// ConfigLine is one labelled setting in the banner.
type ConfigLine struct {
	Label string
	Value string
}

// Print writes the logo, the service name and the settings, labels aligned.
// Empty values are shown as "-".
func Print(w io.Writer, serviceName string, lines []ConfigLine) {
	width := 0
	for _, l := range lines {
		width = max(width, len(l.Label))
	}

	var b strings.Builder
	b.WriteString(rule)
	b.WriteString(logo)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", len(rule)))
	fmt.Fprintf(&b, "\n%s\n", serviceName)
	for _, l := range lines {
		v := l.Value
		if v == "" {
			v = "-"
		}
		fmt.Fprintf(&b, "  %-*s : %s\n", width, l.Label, v)
	}
	b.WriteString("\nReady.\n")
	b.WriteString(rule)
	b.WriteString("\n\n")

	_, _ = io.WriteString(w, b.String())
}
