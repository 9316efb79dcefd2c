package reporter

import (
	"fmt"
	"strings"
)

// RenderMarkdown produces the standalone report.md: a summary header, the
// timeline and technique tables, then the model's own report.
func RenderMarkdown(data ReportData) string {
	var b strings.Builder
	b.WriteString("# Threat Analysis Report\n\n")
	if data.Report == nil {
		b.WriteString("_No analysis available._\n")
		return b.String()
	}
	rep := data.Report
	res := rep.Result

	if data.Source != "" {
		fmt.Fprintf(&b, "- **Source:** %s\n", data.Source)
	}
	fmt.Fprintf(&b, "- **Model:** %s\n", rep.Model)
	fmt.Fprintf(&b, "- **Threat score:** %d/100 (%s)\n", res.ThreatScore, data.Level())
	c := data.Counts()
	fmt.Fprintf(&b, "- **Events:** %d critical, %d high, %d elevated, %d info\n", c.Critical, c.High, c.Elevated, c.Info)
	if rep.Truncated {
		fmt.Fprintf(&b, "- **Input:** truncated to %d characters\n", rep.InputChars)
	}
	if rep.Fallback {
		fmt.Fprintf(&b, "- **Decoder:** response unrecoverable (%s), fallback result shown\n", rep.Stage)
	} else if rep.Repaired {
		b.WriteString("- **Decoder:** truncated response repaired\n")
	}
	if !data.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "- **Generated:** %s\n", data.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	}

	if len(res.Timeline) > 0 {
		b.WriteString("\n## Timeline\n\n| Time | Severity | Event |\n|---|---|---|\n")
		for _, ev := range res.Timeline {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(ev.Timestamp), ev.Severity, cell(ev.Description))
		}
	}

	if groups := data.Tactics(); len(groups) > 0 {
		b.WriteString("\n## MITRE ATT&CK\n")
		for _, g := range groups {
			fmt.Fprintf(&b, "\n### %s\n\n", g.Tactic)
			for _, t := range g.Techniques {
				fmt.Fprintf(&b, "- `%s` %s\n", t.ID, t.Name)
			}
		}
	}

	b.WriteString("\n---\n\n")
	b.WriteString(strings.TrimSpace(res.MarkdownReport))
	b.WriteString("\n")
	return b.String()
}

// cell escapes text for a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
