package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// View identifies which pane the dashboard is showing.
type View int

const (
	ViewSummary View = iota
	ViewResources
	ViewDiags
	ViewTail
)

// Label returns the tab label for the view.
func (v View) Label() string {
	switch v {
	case ViewSummary:
		return "summary"
	case ViewResources:
		return "resources"
	case ViewDiags:
		return "diags"
	case ViewTail:
		return "tail"
	}
	return "?"
}

// ResourceRow is one resource operation as the dashboard tracks it.
type ResourceRow struct {
	Addr    string
	Action  string // create, update, delete, replace, ...
	Status  string // pending, running, done, errored
	Elapsed time.Duration
}

// DiagRow is one diagnostic emitted by the engine.
type DiagRow struct {
	Severity string // error or warning
	Summary  string
	Detail   string
	Address  string
	Range    string // "main.tf:12" or empty
}

// OutputRow is one root module output value.
type OutputRow struct {
	Name      string
	Value     string
	Sensitive bool
}

// Frame is an immutable snapshot of everything the screen needs for one
// redraw. The dashboard builds it under the state lock; rendering happens
// outside it.
type Frame struct {
	Operation     string
	Dir           string
	Workspace     string
	EngineVersion string
	RunID         string
	Phase         string
	Elapsed       time.Duration
	Stale         bool
	StalledFor    time.Duration

	Add    int
	Change int
	Remove int

	DoneCount  int
	TotalCount int
	Errors     int
	Warnings   int

	View         View
	Follow       bool
	Filter       string
	FilterInput  string
	FilterActive bool
	Scroll       int

	Resources []ResourceRow
	Diags     []DiagRow
	Outputs   []OutputRow
	Tail      []string

	DecodeFailures int
	ConfirmPending bool
}

// Screen composes the header, tab bar, active view, and footer into one
// frame of lines for the renderer.
type Screen struct {
	styles    Styles
	summary   *SummaryView
	resources *ResourceView
	diags     *DiagView
	tail      *TailView
}

// NewScreen creates a Screen with the given styles.
func NewScreen(styles Styles) *Screen {
	return &Screen{
		styles:    styles,
		summary:   NewSummaryView(styles),
		resources: NewResourceView(styles),
		diags:     NewDiagView(styles),
		tail:      NewTailView(styles),
	}
}

// Render produces the full frame: header, status, tabs, the active view,
// and a footer of key hints.
func (s *Screen) Render(f Frame, width, height int) []string {
	if width < 20 {
		width = 20
	}
	if height < 6 {
		height = 6
	}

	lines := make([]string, 0, height)
	lines = append(lines, s.headerLine(f, width))
	lines = append(lines, s.statusLine(f, width))
	lines = append(lines, s.tabLine(f, width))

	contentHeight := height - 4
	switch f.View {
	case ViewResources:
		lines = append(lines, s.resources.Render(f, width, contentHeight)...)
	case ViewDiags:
		lines = append(lines, s.diags.Render(f, width, contentHeight)...)
	case ViewTail:
		lines = append(lines, s.tail.Render(f, width, contentHeight)...)
	default:
		lines = append(lines, s.summary.Render(f, width, contentHeight)...)
	}

	lines = append(lines, s.footerLine(f, width))
	return lines
}

// headerLine shows the run identity: operation and directory on the left,
// workspace and engine version on the right.
func (s *Screen) headerLine(f Frame, width int) string {
	left := s.styles.Header.Render("tfdeck") + " " + s.styles.Bold.Render(f.Operation)
	if f.Dir != "" && f.Dir != "." {
		left += " " + s.styles.Muted.Render(f.Dir)
	}

	var rightParts []string
	if f.Workspace != "" {
		rightParts = append(rightParts, f.Workspace)
	}
	if f.EngineVersion != "" {
		rightParts = append(rightParts, f.EngineVersion)
	}
	if f.RunID != "" {
		rightParts = append(rightParts, Truncate(f.RunID, 8))
	}
	right := s.styles.Muted.Render(strings.Join(rightParts, " · "))

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + right
}

// statusLine shows phase, elapsed time, change counts, and progress.
func (s *Screen) statusLine(f Frame, width int) string {
	parts := []string{
		s.phaseStyle(f.Phase).Render(f.Phase),
		s.styles.Muted.Render(FormatElapsed(f.Elapsed)),
	}

	counts := s.styles.Added.Render(fmt.Sprintf("+%d", f.Add)) + " " +
		s.styles.Changed.Render(fmt.Sprintf("~%d", f.Change)) + " " +
		s.styles.Removed.Render(fmt.Sprintf("-%d", f.Remove))
	parts = append(parts, counts)

	if f.TotalCount > 0 {
		parts = append(parts, s.styles.Body.Render(
			fmt.Sprintf("%d/%d", f.DoneCount, f.TotalCount)))
		if bar := ProgressBar(f.DoneCount, f.TotalCount, 24); bar != "" {
			parts = append(parts, s.styles.Muted.Render(bar))
		}
	}

	if f.Errors > 0 {
		parts = append(parts, s.styles.DiagError.Render(
			fmt.Sprintf("%d error(s)", f.Errors)))
	}
	if f.Warnings > 0 {
		parts = append(parts, s.styles.DiagWarn.Render(
			fmt.Sprintf("%d warning(s)", f.Warnings)))
	}
	if f.DecodeFailures > 0 {
		parts = append(parts, s.styles.Muted.Render(
			fmt.Sprintf("%d undecoded", f.DecodeFailures)))
	}
	if f.Stale {
		parts = append(parts, s.styles.Confirm.Render("STALE"))
	}
	if f.StalledFor > 0 {
		parts = append(parts, s.styles.Confirm.Render(
			"no output "+FormatElapsed(f.StalledFor)))
	}

	line := strings.Join(parts, "  ")
	if lipgloss.Width(line) > width {
		// Drop the progress bar first when space runs out.
		line = strings.Join(parts[:3], "  ")
	}
	return line
}

// tabLine renders the view switcher.
func (s *Screen) tabLine(f Frame, width int) string {
	tabs := make([]string, 0, 4)
	for _, v := range []View{ViewSummary, ViewResources, ViewDiags, ViewTail} {
		label := fmt.Sprintf("%d:%s", int(v)+1, v.Label())
		if v == f.View {
			tabs = append(tabs, s.styles.TabActive.Render(label))
		} else {
			tabs = append(tabs, s.styles.Tab.Render(label))
		}
	}
	line := strings.Join(tabs, "  ")
	if f.Filter != "" && !f.FilterActive {
		line += "  " + s.styles.Prompt.Render("/"+f.Filter)
	}
	return line
}

// footerLine renders key hints, the confirm prompt, or the filter editor.
func (s *Screen) footerLine(f Frame, width int) string {
	if f.FilterActive {
		return s.styles.Prompt.Render("/") + f.FilterInput +
			s.styles.Prompt.Render("█") +
			s.styles.Muted.Render("  (enter apply, esc clear)")
	}
	if f.ConfirmPending {
		prompt := fmt.Sprintf("plan complete: %d to add, %d to change, %d to destroy — apply? [y/n]",
			f.Add, f.Change, f.Remove)
		return s.styles.Confirm.Render(Truncate(prompt, width))
	}

	hints := "q quit  tab/1-4 views  j/k scroll  f follow  / filter"
	if f.Follow {
		hints += "  " + "[following]"
	}
	return s.styles.Footer.Render(Truncate(hints, width))
}

func (s *Screen) phaseStyle(phase string) lipgloss.Style {
	switch phase {
	case "done":
		return s.styles.Done
	case "failed":
		return s.styles.Failed
	case "cancelled":
		return s.styles.Cancelled
	case "confirming":
		return s.styles.Confirm
	}
	return s.styles.Running
}

// SummaryView renders the at-a-glance pane: identity, counts, confirm
// prompt, and output values once the run is done.
type SummaryView struct {
	styles Styles
}

// NewSummaryView creates a SummaryView.
func NewSummaryView(styles Styles) *SummaryView {
	return &SummaryView{styles: styles}
}

// Render renders the summary pane to exactly height lines.
func (v *SummaryView) Render(f Frame, width, height int) []string {
	inner := width - 2
	var content []string

	row := func(label, value string) {
		content = append(content,
			"  "+v.styles.Muted.Render(PadOrTruncate(label, 12))+
				v.styles.Body.Render(Truncate(value, inner-12)))
	}

	row("operation", f.Operation)
	if f.Dir != "" {
		row("directory", f.Dir)
	}
	if f.Workspace != "" {
		row("workspace", f.Workspace)
	}
	if f.EngineVersion != "" {
		row("engine", f.EngineVersion)
	}
	if f.RunID != "" {
		row("run", f.RunID)
	}
	content = append(content, "")

	counts := fmt.Sprintf("%d to add, %d to change, %d to destroy",
		f.Add, f.Change, f.Remove)
	row("changes", counts)
	if f.TotalCount > 0 {
		row("progress", fmt.Sprintf("%d of %d operations", f.DoneCount, f.TotalCount))
	}
	if f.Errors > 0 || f.Warnings > 0 {
		row("diagnostics", fmt.Sprintf("%d error(s), %d warning(s)", f.Errors, f.Warnings))
	}

	if f.ConfirmPending {
		content = append(content, "")
		content = append(content, "  "+v.styles.Confirm.Render("press y to apply, n to cancel"))
	}

	if len(f.Outputs) > 0 {
		content = append(content, "")
		content = append(content, "  "+v.styles.Title.Render("outputs"))
		for _, out := range f.Outputs {
			value := out.Value
			if out.Sensitive {
				value = "(sensitive)"
			}
			content = append(content, "  "+v.styles.Body.Render(
				Truncate(fmt.Sprintf("%s = %s", out.Name, value), inner)))
		}
	}

	return fitLines(content, height)
}

// ResourceView renders one row per resource operation.
type ResourceView struct {
	styles Styles
}

// NewResourceView creates a ResourceView.
func NewResourceView(styles Styles) *ResourceView {
	return &ResourceView{styles: styles}
}

// Render renders the resource list window starting at f.Scroll.
func (v *ResourceView) Render(f Frame, width, height int) []string {
	if len(f.Resources) == 0 {
		content := []string{"", v.styles.Muted.Render(CenterText("no resource changes", width))}
		return fitLines(content, height)
	}

	start := clampScroll(f.Scroll, len(f.Resources), height)
	end := start + height
	if end > len(f.Resources) {
		end = len(f.Resources)
	}

	content := make([]string, 0, height)
	for _, r := range f.Resources[start:end] {
		glyph := statusGlyph(r.Status)
		glyphStyle := v.styles.Muted
		switch r.Status {
		case "running":
			glyphStyle = v.styles.Running
		case "done":
			glyphStyle = v.styles.Done
		case "errored":
			glyphStyle = v.styles.Failed
		}

		elapsed := ""
		if r.Elapsed > 0 {
			elapsed = FormatElapsed(r.Elapsed)
		}

		addrWidth := width - 22
		line := " " + glyphStyle.Render(glyph) + " " +
			v.styles.ActionStyle(r.Action).Render(PadOrTruncate(r.Action, 8)) + " " +
			v.styles.Body.Render(PadOrTruncate(r.Addr, addrWidth)) +
			v.styles.Muted.Render(RightAlign(elapsed, 9))
		content = append(content, line)
	}

	return fitLines(content, height)
}

// DiagView renders diagnostics with wrapped details.
type DiagView struct {
	styles Styles
}

// NewDiagView creates a DiagView.
func NewDiagView(styles Styles) *DiagView {
	return &DiagView{styles: styles}
}

// Render flattens diagnostics into lines and windows them by f.Scroll.
func (v *DiagView) Render(f Frame, width, height int) []string {
	if len(f.Diags) == 0 {
		content := []string{"", v.styles.Muted.Render(CenterText("no diagnostics", width))}
		return fitLines(content, height)
	}

	var flat []string
	for _, d := range f.Diags {
		headStyle := v.styles.DiagWarn
		glyph := "⚠"
		if d.Severity == "error" {
			headStyle = v.styles.DiagError
			glyph = "✗"
		}
		head := fmt.Sprintf("%s %s: %s", glyph, d.Severity, d.Summary)
		flat = append(flat, headStyle.Render(Truncate(head, width)))

		if d.Range != "" {
			flat = append(flat, v.styles.Muted.Render("  at "+d.Range))
		} else if d.Address != "" {
			flat = append(flat, v.styles.Muted.Render("  on "+d.Address))
		}
		for _, line := range WrapText(d.Detail, width-2) {
			flat = append(flat, "  "+v.styles.Body.Render(line))
		}
		flat = append(flat, "")
	}

	start := clampScroll(f.Scroll, len(flat), height)
	end := start + height
	if end > len(flat) {
		end = len(flat)
	}
	return fitLines(flat[start:end], height)
}

// TailView renders the raw output ring buffer.
type TailView struct {
	styles Styles
}

// NewTailView creates a TailView.
func NewTailView(styles Styles) *TailView {
	return &TailView{styles: styles}
}

// Render shows a window of the tail. When follow is on the window pins to
// the bottom; otherwise it starts at f.Scroll.
func (v *TailView) Render(f Frame, width, height int) []string {
	total := len(f.Tail)
	start := 0
	if f.Follow {
		if total > height {
			start = total - height
		}
	} else {
		start = clampScroll(f.Scroll, total, height)
	}
	end := start + height
	if end > total {
		end = total
	}

	content := make([]string, 0, height)
	for _, line := range f.Tail[start:end] {
		content = append(content, Truncate(line, width))
	}
	return fitLines(content, height)
}

// fitLines pads or trims content to exactly height lines.
func fitLines(content []string, height int) []string {
	if height < 0 {
		height = 0
	}
	if len(content) > height {
		return content[:height]
	}
	for len(content) < height {
		content = append(content, "")
	}
	return content
}

// clampScroll keeps a scroll offset within the renderable range.
func clampScroll(scroll, total, height int) int {
	maxStart := total - height
	if maxStart < 0 {
		maxStart = 0
	}
	if scroll > maxStart {
		return maxStart
	}
	if scroll < 0 {
		return 0
	}
	return scroll
}

func statusGlyph(status string) string {
	switch status {
	case "running":
		return "▶"
	case "done":
		return "✓"
	case "errored":
		return "✗"
	}
	return "·"
}
