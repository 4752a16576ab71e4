package tui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestANSIEscapeConstants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		constant string
		want     string
	}{
		{"ClearScreen", ClearScreen, "\033[2J"},
		{"ClearLine", ClearLine, "\033[K"},
		{"ClearBelow", ClearBelow, "\033[J"},
		{"CursorHome", CursorHome, "\033[H"},
		{"CursorHide", CursorHide, "\033[?25l"},
		{"CursorShow", CursorShow, "\033[?25h"},
		{"Bell", Bell, "\a"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.constant)
		})
	}
}

func TestCursorTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		row, col int
		want     string
	}{
		{"origin", 1, 1, "\033[1;1H"},
		{"row 5 col 10", 5, 10, "\033[5;10H"},
		{"large values", 100, 200, "\033[100;200H"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CursorTo(tt.row, tt.col))
		})
	}
}

func TestTerminalWrite(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	term.Write("hello")
	assert.Equal(t, "hello", buf.String())
}

func TestTerminalWriteLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	term.WriteLine("hello")
	assert.Equal(t, "hello\r\n", buf.String())
}

func TestTerminalWritef(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	term.Writef("count: %d", 42)
	assert.Equal(t, "count: 42", buf.String())
}

func TestTerminalClear(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	term.Clear()
	assert.Equal(t, ClearScreen+CursorHome, buf.String())
}

func TestTerminalHideCursor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	term.HideCursor()
	assert.Equal(t, CursorHide, buf.String())
}

func TestTerminalShowCursor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	term.ShowCursor()
	assert.Equal(t, CursorShow, buf.String())
}

func TestTerminalRingBell(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	term.RingBell()
	assert.Equal(t, Bell, buf.String())
}

func TestTerminalMoveTo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	term.MoveTo(3, 5)
	assert.Equal(t, "\033[3;5H", buf.String())
}

func TestTerminalClearLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	term.ClearLine()
	assert.Equal(t, ClearLine, buf.String())
}

func TestTerminalAltScreen(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	term.EnterAltScreen()
	term.EnterAltScreen() // second call is a no-op
	assert.Equal(t, "\033[?1049h", buf.String())

	buf.Reset()
	term.ExitAltScreen()
	term.ExitAltScreen()
	assert.Equal(t, "\033[?1049l", buf.String())
}

func TestTerminalIsRaw(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	assert.False(t, term.IsRaw())
}

func TestTerminalExitRawWithoutEnter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	term := NewTerminal(nil, &buf)

	assert.NoError(t, term.ExitRaw())
}
