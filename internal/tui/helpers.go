package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Heading renders a section title followed by a rule.
func Heading(title string) string {
	return HeadingStyle.Render(title) + "\n" + SeparatorStyle.Render(strings.Repeat("─", 50))
}

// Fields renders label/value pairs with the labels aligned. Pairs keep the
// given order.
func Fields(pairs ...[2]string) string {
	width := 0
	for _, p := range pairs {
		width = max(width, lipgloss.Width(p[0]))
	}
	var b strings.Builder
	for _, p := range pairs {
		label := LabelStyle.Render(p[0] + ":")
		pad := strings.Repeat(" ", width-lipgloss.Width(p[0])+1)
		fmt.Fprintf(&b, "  %s%s%s\n", label, pad, ValueStyle.Render(p[1]))
	}
	return b.String()
}

// Map renders a string map sorted by key.
func Map(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][2]string, len(keys))
	for i, k := range keys {
		pairs[i] = [2]string{k, m[k]}
	}
	return Fields(pairs...)
}

// Check renders one health check line.
func Check(name string, ok bool, detail string, latency time.Duration) string {
	mark := OKStyle.Render("✓")
	if !ok {
		mark = ErrorStyle.Render("✗")
	}
	line := fmt.Sprintf("  %s %-8s %s", mark, name, detail)
	if latency > 0 {
		line += " " + MutedStyle.Render(fmt.Sprintf("(%s)", latency.Round(time.Microsecond)))
	}
	return line
}

// TTL renders a remaining lifetime; negative means no expiry.
func TTL(d time.Duration) string {
	if d < 0 {
		return "no expiry"
	}
	return d.Round(time.Second).String()
}

// Bar draws a fill bar for a value in [0, 1].
func Bar(value float64, width int) string {
	filled := int(value * float64(width))
	filled = max(0, min(filled, width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Truncate shortens s to n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
