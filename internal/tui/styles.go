package tui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Light mode colors
	lightForeground = lipgloss.Color("#1c2433")
	lightAccent     = lipgloss.Color("#6f42c1")
	lightSecondary  = lipgloss.Color("#e8eaef")
	lightMuted      = lipgloss.Color("#8a93a3")
	lightBorder     = lipgloss.Color("#d0d4dc")

	// Dark mode colors
	darkForeground = lipgloss.Color("#e6e6e6")
	darkAccent     = lipgloss.Color("#9d7cd8")
	darkSecondary  = lipgloss.Color("#2a3040")
	darkMuted      = lipgloss.Color("#7a8699")
	darkBorder     = lipgloss.Color("#3b4252")

	// Semantic colors (same in both modes), matching the engine's own
	// plan rendering: green for additions, yellow for in-place changes,
	// red for destruction.
	colorAdded   = lipgloss.Color("#66bb6a")
	colorChanged = lipgloss.Color("#ffb300")
	colorRemoved = lipgloss.Color("#ef5350")
	colorInfo    = lipgloss.Color("#42a5f5")
)

// Theme holds the current color scheme.
type Theme struct {
	Foreground lipgloss.Color
	Accent     lipgloss.Color
	Secondary  lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme.
func LightTheme() Theme {
	return Theme{
		Foreground: lightForeground,
		Accent:     lightAccent,
		Secondary:  lightSecondary,
		Muted:      lightMuted,
		Border:     lightBorder,
		IsDark:     false,
	}
}

// DarkTheme returns the dark mode theme.
func DarkTheme() Theme {
	return Theme{
		Foreground: darkForeground,
		Accent:     darkAccent,
		Secondary:  darkSecondary,
		Muted:      darkMuted,
		Border:     darkBorder,
		IsDark:     true,
	}
}

// ThemeForName resolves a configured theme name ("dark", "light", or
// "auto") to a Theme. Anything other than an explicit choice falls back
// to terminal detection.
func ThemeForName(name string) Theme {
	switch name {
	case "dark":
		return DarkTheme()
	case "light":
		return LightTheme()
	}
	return detectTheme()
}

// detectTheme guesses the terminal background from COLORFGBG, which most
// terminal emulators export as "foreground;background" with ANSI color
// indexes. Unknown environments get the dark theme.
func detectTheme() Theme {
	if colorTerm := os.Getenv("COLORFGBG"); colorTerm != "" {
		parts := strings.Split(colorTerm, ";")
		if len(parts) >= 2 {
			bgStr := parts[len(parts)-1]
			if bgIdx, err := strconv.Atoi(bgStr); err == nil {
				// Indexes 7 and 15 are the light backgrounds.
				if bgIdx == 7 || bgIdx == 15 {
					return LightTheme()
				}
				return DarkTheme()
			}
		}
	}
	return DarkTheme()
}

// Styles holds all the styled components used by the views.
type Styles struct {
	Theme Theme

	// Layout
	Header lipgloss.Style
	Footer lipgloss.Style

	// Text
	Title    lipgloss.Style
	Body     lipgloss.Style
	Muted    lipgloss.Style
	Bold     lipgloss.Style
	Selected lipgloss.Style

	// Tabs
	Tab       lipgloss.Style
	TabActive lipgloss.Style

	// Run status
	Running   lipgloss.Style
	Done      lipgloss.Style
	Failed    lipgloss.Style
	Confirm   lipgloss.Style
	Cancelled lipgloss.Style

	// Change counts and resource actions
	Added   lipgloss.Style
	Changed lipgloss.Style
	Removed lipgloss.Style

	// Diagnostics
	DiagError lipgloss.Style
	DiagWarn  lipgloss.Style
	Info      lipgloss.Style

	// Filter prompt
	Prompt lipgloss.Style
}

// NewStyles creates a new Styles instance with the given theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Title: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Bold: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		Selected: lipgloss.NewStyle().
			Background(theme.Secondary).
			Foreground(theme.Foreground),

		Tab: lipgloss.NewStyle().
			Foreground(theme.Muted),

		TabActive: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true).
			Underline(true),

		Running: lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true),

		Done: lipgloss.NewStyle().
			Foreground(colorAdded).
			Bold(true),

		Failed: lipgloss.NewStyle().
			Foreground(colorRemoved).
			Bold(true),

		Confirm: lipgloss.NewStyle().
			Foreground(colorChanged).
			Bold(true),

		Cancelled: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Bold(true),

		Added: lipgloss.NewStyle().
			Foreground(colorAdded),

		Changed: lipgloss.NewStyle().
			Foreground(colorChanged),

		Removed: lipgloss.NewStyle().
			Foreground(colorRemoved),

		DiagError: lipgloss.NewStyle().
			Foreground(colorRemoved).
			Bold(true),

		DiagWarn: lipgloss.NewStyle().
			Foreground(colorChanged).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(colorInfo),

		Prompt: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),
	}
}

// DefaultStyles returns styles with the auto-detected theme.
func DefaultStyles() Styles {
	return NewStyles(detectTheme())
}

// ActionStyle returns the style for a resource change action keyword
// ("create", "update", "replace", "delete", ...).
func (s Styles) ActionStyle(action string) lipgloss.Style {
	switch action {
	case "create", "import":
		return s.Added
	case "update", "move":
		return s.Changed
	case "delete", "replace":
		return s.Removed
	}
	return s.Muted
}
