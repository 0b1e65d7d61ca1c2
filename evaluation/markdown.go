package evaluation

import (
	"fmt"
	"sort"
	"strings"
)

var scoreOrder = map[Kind][]string{
	Speaking: {"fluency", "pronunciation", "coherence", "vocabulary", "grammar"},
	Reading:  {"accuracy", "fluency", "completeness", "pronunciation"},
}

// Markdown renders an evaluation as a markdown report.
func Markdown(ev Evaluation) string {
	var b strings.Builder

	title := "Evaluation"
	switch ev.Kind {
	case Speaking:
		title = "Speaking evaluation"
	case Reading:
		title = "Reading evaluation"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Overall:** %s\n\n", formatScore(ev.Overall))

	if len(ev.Scores) > 0 {
		b.WriteString("| Criterion | Score |\n|---|---|\n")
		for _, name := range scoreNames(ev) {
			fmt.Fprintf(&b, "| %s | %s |\n", capitalize(name), formatScore(ev.Scores[name]))
		}
		b.WriteString("\n")
	}

	if len(ev.Feedback) > 0 {
		b.WriteString("## Feedback\n\n")
		for _, f := range ev.Feedback {
			if f.Category != "" {
				fmt.Fprintf(&b, "- **%s:** %s\n", capitalize(f.Category), f.Message)
			} else {
				fmt.Fprintf(&b, "- %s\n", f.Message)
			}
		}
		b.WriteString("\n")
	}

	if ev.Transcript != "" {
		fmt.Fprintf(&b, "## Transcript\n\n> %s\n", ev.Transcript)
	}

	return b.String()
}

// scoreNames lists the known criteria for the kind first, then any extra
// criteria the backend returned in alphabetical order.
func scoreNames(ev Evaluation) []string {
	var names []string
	seen := make(map[string]bool)
	for _, name := range scoreOrder[ev.Kind] {
		if _, ok := ev.Scores[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range ev.Scores {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func formatScore(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
