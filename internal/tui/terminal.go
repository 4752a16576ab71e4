// Package tui owns the terminal: raw mode, key decoding, and frame
// rendering for the dashboard. It has no event loop of its own; keys are
// surfaced as events and frames are drawn from state snapshots.
package tui

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Terminal handles raw terminal mode and provides ANSI escape helpers.
type Terminal struct {
	in       *os.File
	out      io.Writer
	oldState *term.State
	isRaw    bool
	altOn    bool
}

// NewTerminal creates a Terminal reading from in and writing to out.
// Pass os.Stdin and os.Stdout for the real thing.
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

// In returns the input file, for the key reader.
func (t *Terminal) In() *os.File {
	return t.in
}

// EnterRaw puts the terminal into raw mode.
// Returns an error if already in raw mode or if the operation fails.
func (t *Terminal) EnterRaw() error {
	if t.isRaw {
		return fmt.Errorf("terminal already in raw mode")
	}

	fd := int(t.in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}

	t.oldState = oldState
	t.isRaw = true
	return nil
}

// ExitRaw restores the terminal to its original state.
// Safe to call even if not in raw mode.
func (t *Terminal) ExitRaw() error {
	if !t.isRaw || t.oldState == nil {
		return nil
	}

	fd := int(t.in.Fd())
	if err := term.Restore(fd, t.oldState); err != nil {
		return fmt.Errorf("failed to restore terminal: %w", err)
	}

	t.isRaw = false
	t.oldState = nil
	return nil
}

// IsRaw returns true if the terminal is in raw mode.
func (t *Terminal) IsRaw() bool {
	return t.isRaw
}

// EnterAltScreen switches to the alternate screen buffer so the shell's
// scrollback survives the dashboard.
func (t *Terminal) EnterAltScreen() {
	if !t.altOn {
		fmt.Fprint(t.out, altScreenOn)
		t.altOn = true
	}
}

// ExitAltScreen restores the main screen buffer.
func (t *Terminal) ExitAltScreen() {
	if t.altOn {
		fmt.Fprint(t.out, altScreenOff)
		t.altOn = false
	}
}

// Size returns the current terminal width and height.
func (t *Terminal) Size() (width, height int, err error) {
	fd := int(t.in.Fd())
	width, height, err = term.GetSize(fd)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get terminal size: %w", err)
	}
	return width, height, nil
}

// ANSI escape sequences
const (
	// Screen control
	ClearScreen  = "\033[2J"    // Clear entire screen
	ClearLine    = "\033[K"     // Clear from cursor to end of line
	ClearBelow   = "\033[J"     // Clear from cursor to end of screen
	CursorHome   = "\033[H"     // Move cursor to home position (1,1)
	CursorHide   = "\033[?25l"  // Hide cursor
	CursorShow   = "\033[?25h"  // Show cursor
	altScreenOn  = "\033[?1049h"
	altScreenOff = "\033[?1049l"

	// Bell
	Bell = "\a"
)

// CursorTo returns an ANSI escape sequence to move the cursor to (row, col).
// Row and column are 1-indexed.
func CursorTo(row, col int) string {
	return fmt.Sprintf("\033[%d;%dH", row, col)
}

// Write helpers for Terminal

// Clear clears the screen and moves cursor to home.
func (t *Terminal) Clear() {
	fmt.Fprint(t.out, ClearScreen+CursorHome)
}

// HideCursor hides the cursor.
func (t *Terminal) HideCursor() {
	fmt.Fprint(t.out, CursorHide)
}

// ShowCursor shows the cursor.
func (t *Terminal) ShowCursor() {
	fmt.Fprint(t.out, CursorShow)
}

// RingBell sounds the terminal bell.
func (t *Terminal) RingBell() {
	fmt.Fprint(t.out, Bell)
}

// ClearLine clears from the cursor to the end of the current line.
func (t *Terminal) ClearLine() {
	fmt.Fprint(t.out, ClearLine)
}

// Write writes the given string to the terminal output.
func (t *Terminal) Write(s string) {
	fmt.Fprint(t.out, s)
}

// WriteLine writes a string with the CRLF raw mode needs.
func (t *Terminal) WriteLine(s string) {
	fmt.Fprint(t.out, s+"\r\n")
}

// Writef writes a formatted string to the terminal output.
func (t *Terminal) Writef(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}

// MoveTo moves the cursor to the given position (1-indexed).
func (t *Terminal) MoveTo(row, col int) {
	fmt.Fprint(t.out, CursorTo(row, col))
}
