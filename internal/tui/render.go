package tui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Renderer redraws whole frames. Every draw homes the cursor, rewrites
// each line, and clears whatever the previous frame left behind, so views
// never need to track damage.
type Renderer struct {
	term *Terminal
}

// NewRenderer creates a Renderer writing to the given terminal.
func NewRenderer(term *Terminal) *Renderer {
	return &Renderer{term: term}
}

// Draw renders the frame lines. The frame is assembled into one write so
// the terminal never shows a half-painted screen.
func (r *Renderer) Draw(lines []string) {
	var b strings.Builder
	b.WriteString(CursorHome)
	for i, line := range lines {
		if i > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString(line)
		b.WriteString(ClearLine)
	}
	b.WriteString(ClearBelow)
	r.term.Write(b.String())
}

// PadOrTruncate pads or truncates a string to exactly width characters.
// Uses visual width (rune count) for proper Unicode handling; styling
// must be applied after layout, not before.
func PadOrTruncate(s string, width int) string {
	if width <= 0 {
		return ""
	}

	runeLen := utf8.RuneCountInString(s)

	if runeLen == width {
		return s
	}

	if runeLen < width {
		return s + strings.Repeat(" ", width-runeLen)
	}

	// Truncate, preserving rune boundaries
	runes := []rune(s)
	if width >= 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// Truncate truncates a string to max width, adding ellipsis if needed.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= width {
		return s
	}

	if width >= 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// WrapText wraps text to fit within the given width.
// Returns a slice of lines.
func WrapText(text string, width int) []string {
	if width <= 0 {
		return nil
	}

	var lines []string
	words := strings.Fields(text)

	if len(words) == 0 {
		return lines
	}

	currentLine := words[0]

	for _, word := range words[1:] {
		if utf8.RuneCountInString(currentLine)+1+utf8.RuneCountInString(word) <= width {
			currentLine += " " + word
		} else {
			lines = append(lines, currentLine)
			currentLine = word
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

// CenterText centers text within the given width.
func CenterText(s string, width int) string {
	runeLen := utf8.RuneCountInString(s)
	if runeLen >= width {
		return PadOrTruncate(s, width)
	}

	leftPad := (width - runeLen) / 2
	rightPad := width - runeLen - leftPad

	return strings.Repeat(" ", leftPad) + s + strings.Repeat(" ", rightPad)
}

// RightAlign right-aligns text within the given width.
func RightAlign(s string, width int) string {
	runeLen := utf8.RuneCountInString(s)
	if runeLen >= width {
		return PadOrTruncate(s, width)
	}

	return strings.Repeat(" ", width-runeLen) + s
}

// ProgressBar renders a simple progress bar.
// Returns a string like "[████████░░░░░░░░] 50%"
func ProgressBar(current, total, width int) string {
	if total == 0 || width < 10 {
		return ""
	}

	// Calculate percentage
	pct := float64(current) / float64(total)
	if pct > 1 {
		pct = 1
	}

	// Calculate filled/empty sections
	barWidth := width - 7 // Space for "[] XXX%"
	filled := int(pct * float64(barWidth))
	empty := barWidth - filled

	// Build the bar
	bar := "[" +
		strings.Repeat("█", filled) +
		strings.Repeat("░", empty) +
		"]"

	// Add percentage
	pctNum := int(pct * 100)
	pctStr := fmt.Sprintf("%3d", pctNum)

	return bar + " " + pctStr + "%"
}

// FormatElapsed formats a duration as mm:ss, rolling over to h:mm:ss past
// the hour.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
