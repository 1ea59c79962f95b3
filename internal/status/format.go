package status

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// FormatOptions controls output formatting.
type FormatOptions struct {
	NoColor bool
	Quiet   bool
}

var (
	styleGreen  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleYellow = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	styleBlue   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	styleRed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	styleGray   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	styleLabel  = lipgloss.NewStyle().Bold(true)
	styleDetail = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// FormatRunDetail formats a single run with its steps and stories.
func FormatRunDetail(s *RunSummary, opts FormatOptions) string {
	var b strings.Builder

	b.WriteString(formatHeader(s, opts))
	b.WriteString("\n\n")
	b.WriteString(formatProgress(s, opts))
	b.WriteString("\n\n")
	b.WriteString(formatSteps(s, opts))

	if len(s.Stories) > 0 && !opts.Quiet {
		b.WriteString("\n")
		b.WriteString(formatStories(s, opts))
	}
	if len(s.Errors) > 0 {
		b.WriteString("\n")
		b.WriteString(formatErrors(s, opts))
	}
	return b.String()
}

// FormatRunList formats a list of runs, newest first.
func FormatRunList(summaries []*RunSummary, opts FormatOptions) string {
	if len(summaries) == 0 {
		return "No runs.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d run(s):\n\n", len(summaries))

	sorted := make([]*RunSummary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	for _, s := range sorted {
		icon, style := runStyle(s.Status)
		fmt.Fprintf(&b, "%s %s  %s  %s",
			paint(style, icon, opts), s.ID, s.TemplateID, paint(style, string(s.Status), opts))
		if s.AwaitingApproval {
			b.WriteString(" " + paint(styleYellow, "(awaiting approval)", opts))
		}
		if !opts.Quiet {
			fmt.Fprintf(&b, "  %s", formatDuration(s.Elapsed))
			if s.Task != "" {
				fmt.Fprintf(&b, "\n    %s", paint(styleDetail, truncate(s.Task, 72), opts))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatTemplates lists workflow templates with their step pipelines.
func FormatTemplates(templates []*types.WorkflowTemplate, opts FormatOptions) string {
	if len(templates) == 0 {
		return "No workflows.\n"
	}
	var b strings.Builder
	for _, t := range templates {
		b.WriteString(paint(styleLabel, t.ID, opts))
		if t.Name != "" && t.Name != t.ID {
			fmt.Fprintf(&b, " (%s)", t.Name)
		}
		b.WriteString("\n")
		if t.Description != "" && !opts.Quiet {
			fmt.Fprintf(&b, "  %s\n", paint(styleDetail, t.Description, opts))
		}
		ids := make([]string, 0, len(t.Steps))
		for _, st := range t.Steps {
			ids = append(ids, st.StepID)
		}
		fmt.Fprintf(&b, "  steps: %s\n", strings.Join(ids, " -> "))
	}
	return b.String()
}

func formatHeader(s *RunSummary, opts FormatOptions) string {
	var b strings.Builder
	icon, style := runStyle(s.Status)

	fmt.Fprintf(&b, "%s %s\n", paint(styleLabel, "Run:     ", opts), s.ID)
	fmt.Fprintf(&b, "%s %s\n", paint(styleLabel, "Workflow:", opts), s.TemplateID)
	fmt.Fprintf(&b, "%s %s", paint(styleLabel, "Status:  ", opts), paint(style, icon+" "+string(s.Status), opts))
	if s.AwaitingApproval {
		b.WriteString(" " + paint(styleYellow, "(awaiting approval)", opts))
	}
	fmt.Fprintf(&b, "\n%s %s", paint(styleLabel, "Started: ", opts), formatTime(s.CreatedAt))
	if s.DoneAt != nil {
		fmt.Fprintf(&b, " (took %s)", formatDuration(s.Elapsed))
	} else {
		fmt.Fprintf(&b, " (%s ago)", formatDuration(s.Elapsed))
	}
	if s.Task != "" && !opts.Quiet {
		fmt.Fprintf(&b, "\n%s %s", paint(styleLabel, "Task:    ", opts), s.Task)
	}
	return b.String()
}

func formatProgress(s *RunSummary, opts FormatOptions) string {
	var b strings.Builder
	st := s.StepStats
	fmt.Fprintf(&b, "Progress: %s (%d/%d steps)", progressBar(st.Done(), st.Total, opts), st.Done(), st.Total)

	if s.StoryStats.Total > 0 {
		ss := s.StoryStats
		fmt.Fprintf(&b, "\nStories:  %s (%d/%d done",
			progressBar(ss.Completed+ss.Failed, ss.Total, opts), ss.Completed, ss.Total)
		if ss.Failed > 0 {
			fmt.Fprintf(&b, ", %s", paint(styleRed, fmt.Sprintf("%d failed", ss.Failed), opts))
		}
		b.WriteString(")")
	}
	return b.String()
}

func formatSteps(s *RunSummary, opts FormatOptions) string {
	var b strings.Builder
	b.WriteString(paint(styleLabel, "Steps:", opts) + "\n")

	width := 0
	for _, line := range s.Steps {
		width = max(width, len(line.StepID))
	}
	for _, line := range s.Steps {
		icon, style := stepStyle(line.Status)
		fmt.Fprintf(&b, "  %s %-*s  %s", paint(style, icon, opts), width, line.StepID, paint(style, string(line.Status), opts))
		if opts.Quiet {
			b.WriteString("\n")
			continue
		}
		var extra []string
		if line.AgentID != "" {
			extra = append(extra, "agent "+line.AgentID)
		}
		if line.Kind != "" && line.Kind != types.StepKindSingle {
			extra = append(extra, string(line.Kind))
		}
		if line.StoryID != "" {
			extra = append(extra, "story "+line.StoryID)
		}
		if !strings.HasPrefix(line.Retries, "0/") {
			extra = append(extra, "retries "+line.Retries)
		}
		if line.Status == types.StepStatusRunning || line.Status == types.StepStatusAwaitingApproval {
			extra = append(extra, formatDuration(line.Since))
		}
		if len(extra) > 0 {
			b.WriteString("  " + paint(styleDetail, strings.Join(extra, ", "), opts))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatStories(s *RunSummary, opts FormatOptions) string {
	var b strings.Builder
	b.WriteString(paint(styleLabel, "Stories:", opts) + "\n")
	for _, line := range s.Stories {
		icon, style := storyStyle(line.Status)
		fmt.Fprintf(&b, "  %s %s %s", paint(style, icon, opts), line.StoryID, truncate(line.Title, 60))
		if !strings.HasPrefix(line.Retries, "0/") {
			b.WriteString("  " + paint(styleDetail, "retries "+line.Retries, opts))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatErrors(s *RunSummary, opts FormatOptions) string {
	var b strings.Builder
	b.WriteString(paint(styleRed, "Errors:", opts) + "\n")
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "  %s %s\n", paint(styleRed, "✗", opts), truncate(e, 120))
	}
	return b.String()
}

// paint renders text with style unless color is disabled.
func paint(style lipgloss.Style, text string, opts FormatOptions) string {
	if opts.NoColor {
		return text
	}
	return style.Render(text)
}

func runStyle(status types.RunStatus) (string, lipgloss.Style) {
	switch status {
	case types.RunStatusRunning:
		return "●", styleYellow
	case types.RunStatusCompleted:
		return "✓", styleGreen
	case types.RunStatusFailed:
		return "✗", styleRed
	case types.RunStatusCancelled:
		return "■", styleGray
	}
	return "?", styleGray
}

func stepStyle(status types.StepStatus) (string, lipgloss.Style) {
	switch status {
	case types.StepStatusWaiting:
		return "·", styleGray
	case types.StepStatusPending:
		return "○", styleBlue
	case types.StepStatusRunning:
		return "●", styleYellow
	case types.StepStatusAwaitingApproval:
		return "◐", styleYellow
	case types.StepStatusCompleted:
		return "✓", styleGreen
	case types.StepStatusFailed:
		return "✗", styleRed
	}
	return "?", styleGray
}

func storyStyle(status types.StoryStatus) (string, lipgloss.Style) {
	switch status {
	case types.StoryStatusPending:
		return "○", styleGray
	case types.StoryStatusRunning:
		return "●", styleYellow
	case types.StoryStatusCompleted:
		return "✓", styleGreen
	case types.StoryStatusFailed:
		return "✗", styleRed
	}
	return "?", styleGray
}

// progressBar draws a 25 cell bar with a percentage.
func progressBar(done, total int, opts FormatOptions) string {
	const width = 25
	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}
	filled := pct * width / 100
	bar := paint(styleGreen, strings.Repeat("█", filled), opts) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s %d%%", bar, pct)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
