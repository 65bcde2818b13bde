package ui

import (
	"fmt"
	"strings"

	"github.com/Azure/azsqlaudit/internal/audit"
	"github.com/Azure/azsqlaudit/internal/ui/common"
	"github.com/Azure/azsqlaudit/pkg/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/mitchellh/go-wordwrap"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/padding"
)

const (
	reportWidth = 80
	indentLevel = 2
)

// Report summarizes the outcome of a run.
type Report struct {
	Mode    config.Mode
	Results []*audit.Result
}

// Counts returns the number of servers per outcome.
func (r Report) Counts() map[audit.Outcome]int {
	counts := map[audit.Outcome]int{}
	for _, res := range r.Results {
		counts[res.Decision.Outcome]++
	}
	return counts
}

// Changed returns the number of servers whose audit settings were modified.
func (r Report) Changed() int {
	var n int
	for _, res := range r.Results {
		if res.Decision.Action != audit.ActionNone {
			n++
		}
	}
	return n
}

// Render renders the report. Styling is skipped in plain mode.
func (r Report) Render(plain bool) string {
	style := func(s lipgloss.Style, str string) string {
		if plain {
			return str
		}
		return s.Render(str)
	}

	width := len("Server")
	for _, res := range r.Results {
		if l := len(res.Server.String()); l > width {
			width = l
		}
	}
	width += 2

	var sb strings.Builder
	sb.WriteString(style(common.TitleStyle, "Audit summary ("+r.Mode.String()+")") + "\n\n")

	var table strings.Builder
	table.WriteString(padding.String(style(common.HeaderStyle, "Server"), uint(width)) + style(common.HeaderStyle, "Outcome") + "\n")
	for _, res := range r.Results {
		table.WriteString(padding.String(res.Server.String(), uint(width)) + style(outcomeStyle(res.Decision), string(res.Decision.Outcome)) + "\n")
	}
	sb.WriteString(indent.String(table.String(), indentLevel))
	sb.WriteString("\n")

	counts := r.Counts()
	var stats strings.Builder
	for _, o := range audit.Outcomes {
		if counts[o] == 0 {
			continue
		}
		stats.WriteString(padding.String(string(o), 34) + fmt.Sprintf("%d\n", counts[o]))
	}
	if stats.Len() != 0 {
		sb.WriteString(indent.String(stats.String(), indentLevel))
		sb.WriteString("\n")
	}

	sb.WriteString(wordwrap.WrapString(r.footer(), reportWidth) + "\n")
	return sb.String()
}

func (r Report) footer() string {
	n := len(r.Results)
	switch r.Mode {
	case config.ModeReportOnly:
		return fmt.Sprintf("%d server(s) inspected in report-only mode, no audit setting was modified. Run again with --EnableAudit or --DisableAudit to apply changes.", n)
	default:
		return fmt.Sprintf("%d server(s) processed, %d modified. Servers whose audit logs go to another destination were left untouched.", n, r.Changed())
	}
}

func outcomeStyle(d audit.Decision) lipgloss.Style {
	switch {
	case d.Action != audit.ActionNone:
		return common.ChangedStyle
	case d.Outcome == audit.OutcomeSkipped || d.Outcome == audit.OutcomeOtherInUse:
		return common.SkippedStyle
	default:
		return common.KeptStyle
	}
}
