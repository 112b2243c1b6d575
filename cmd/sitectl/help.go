package main

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alfredjeanlab/livesite/internal/ui"
	"github.com/spf13/cobra"
)

var (
	// "Content:", "Flags:", "Global Flags:".
	reHeading = regexp.MustCompile(`^[A-Z][A-Za-z ]*:\s*$`)
	// "  set         Set one content value".
	reEntry = regexp.MustCompile(`^(  )(\S+)(\s{2,}.*)$`)
	// "      --since string   ..." and "(default "http://localhost:8080")".
	reFlagKind = regexp.MustCompile(`(--\S+ )(string|int|int64|duration|stringSlice)\b`)
	reDefault  = regexp.MustCompile(`\(default [^)]*\)`)
)

// colorizedHelpFunc renders cobra's usage text and styles it line by line
// when stdout is a color terminal.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, styleHelp(buf.String()))
	}
}

func styleHelp(text string) string {
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "Usage:":
		case reHeading.MatchString(line):
			line = ui.RenderAccent(strings.TrimSpace(line))
		case reEntry.MatchString(line) && !strings.HasPrefix(strings.TrimSpace(line), "-"):
			m := reEntry.FindStringSubmatch(line)
			line = m[1] + ui.RenderCommand(m[2]) + m[3]
		default:
			line = reFlagKind.ReplaceAllString(line, "${1}"+ui.RenderMuted("${2}"))
		}
		line = reDefault.ReplaceAllStringFunc(line, ui.RenderMuted)
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
