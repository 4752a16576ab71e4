package tui

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/muesli/cancelreader"

	"github.com/tfdeck/tfdeck/internal/controller"
)

// Key represents a keyboard input.
type Key int

const (
	KeyUnknown Key = iota
	KeyEscape
	KeyEnter
	KeyBackspace
	KeyDelete
	KeyTab
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyPgUp
	KeyPgDn
	KeyHome
	KeyEnd
	KeyCtrlC
	KeyRune // Regular character
)

// KeyEvent represents a key press event.
type KeyEvent struct {
	Key  Key
	Rune rune // Only valid when Key == KeyRune
}

// KeyReader reads keyboard input from a raw terminal. It implements
// controller.EventSource[KeyEvent]: ReadEvent blocks until a key is
// pressed, and Close unblocks a pending ReadEvent, which then returns
// controller.ErrSourceClosed.
type KeyReader struct {
	cancel    cancelreader.CancelReader
	reader    *bufio.Reader
	closeOnce sync.Once
	closeErr  error
}

// NewKeyReader creates a KeyReader from the given io.Reader.
// The reader should be a raw terminal input (e.g., os.Stdin after term.MakeRaw).
func NewKeyReader(r io.Reader) (*KeyReader, error) {
	cr, err := cancelreader.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &KeyReader{
		cancel: cr,
		reader: bufio.NewReaderSize(cr, 64),
	}, nil
}

// Close cancels a pending read and releases the underlying reader.
// Safe to call more than once.
func (k *KeyReader) Close() error {
	k.closeOnce.Do(func() {
		k.cancel.Cancel()
		k.closeErr = k.cancel.Close()
	})
	return k.closeErr
}

// ReadEvent reads a single key event from the input.
// This method blocks until a key is pressed.
func (k *KeyReader) ReadEvent() (KeyEvent, error) {
	for {
		b, err := k.reader.ReadByte()
		if err != nil {
			return KeyEvent{}, mapReadErr(err)
		}

		switch b {
		case 0x03: // Ctrl+C
			return KeyEvent{Key: KeyCtrlC}, nil
		case 0x09: // Tab
			return KeyEvent{Key: KeyTab}, nil
		case 0x0D, 0x0A: // Enter (CR or LF)
			return KeyEvent{Key: KeyEnter}, nil
		case 0x7F, 0x08: // Backspace (DEL or BS)
			return KeyEvent{Key: KeyBackspace}, nil
		case 0x1B: // Escape or escape sequence start
			return k.readEscapeSequence()
		default:
			// Check if it's a printable character or UTF-8 sequence
			if b >= 0x20 && b < 0x7F {
				return KeyEvent{Key: KeyRune, Rune: rune(b)}, nil
			}
			// Handle UTF-8 multi-byte characters
			if b >= 0xC0 {
				return k.readUTF8(b)
			}
			// Other control characters are ignored.
		}
	}
}

// mapReadErr translates reader termination into the event source contract.
func mapReadErr(err error) error {
	if errors.Is(err, cancelreader.ErrCanceled) || errors.Is(err, io.EOF) {
		return controller.ErrSourceClosed
	}
	return err
}

// readEscapeSequence handles escape sequences (arrow keys, etc).
func (k *KeyReader) readEscapeSequence() (KeyEvent, error) {
	// A lone escape byte means the user pressed the escape key. Terminals
	// deliver full sequences in one burst, so an empty buffer is the tell.
	if k.reader.Buffered() == 0 {
		return KeyEvent{Key: KeyEscape}, nil
	}

	b, err := k.reader.ReadByte()
	if err != nil {
		return KeyEvent{Key: KeyEscape}, nil
	}

	if b != '[' && b != 'O' {
		k.reader.UnreadByte()
		return KeyEvent{Key: KeyEscape}, nil
	}

	return k.parseCSI()
}

// parseCSI parses a CSI (Control Sequence Introducer) or SS3 sequence.
func (k *KeyReader) parseCSI() (KeyEvent, error) {
	b, err := k.reader.ReadByte()
	if err != nil {
		return KeyEvent{Key: KeyEscape}, nil
	}

	switch b {
	case 'A':
		return KeyEvent{Key: KeyUp}, nil
	case 'B':
		return KeyEvent{Key: KeyDown}, nil
	case 'C':
		return KeyEvent{Key: KeyRight}, nil
	case 'D':
		return KeyEvent{Key: KeyLeft}, nil
	case 'H':
		return KeyEvent{Key: KeyHome}, nil
	case 'F':
		return KeyEvent{Key: KeyEnd}, nil
	}

	// CSI <digits> ~ sequences (Home/Delete/End/PgUp/PgDn).
	digits := make([]byte, 0, 2)
	for b >= '0' && b <= '9' {
		digits = append(digits, b)
		b, err = k.reader.ReadByte()
		if err != nil {
			return KeyEvent{Key: KeyUnknown}, nil
		}
	}
	if b == '~' {
		switch string(digits) {
		case "1", "7":
			return KeyEvent{Key: KeyHome}, nil
		case "3":
			return KeyEvent{Key: KeyDelete}, nil
		case "4", "8":
			return KeyEvent{Key: KeyEnd}, nil
		case "5":
			return KeyEvent{Key: KeyPgUp}, nil
		case "6":
			return KeyEvent{Key: KeyPgDn}, nil
		}
		return KeyEvent{Key: KeyUnknown}, nil
	}

	// Unknown sequence, consume remaining bytes if any
	for k.reader.Buffered() > 0 {
		next, _ := k.reader.ReadByte()
		// Stop at terminal characters
		if (next >= 'A' && next <= 'Z') || next == '~' {
			break
		}
	}
	return KeyEvent{Key: KeyUnknown}, nil
}

// readUTF8 reads a multi-byte UTF-8 character.
func (k *KeyReader) readUTF8(first byte) (KeyEvent, error) {
	var buf [4]byte
	buf[0] = first

	// Determine how many bytes we need
	var n int
	switch {
	case first&0xE0 == 0xC0:
		n = 2
	case first&0xF0 == 0xE0:
		n = 3
	case first&0xF8 == 0xF0:
		n = 4
	default:
		return KeyEvent{Key: KeyUnknown}, nil
	}

	// Read remaining bytes
	for i := 1; i < n; i++ {
		b, err := k.reader.ReadByte()
		if err != nil {
			return KeyEvent{Key: KeyUnknown}, mapReadErr(err)
		}
		buf[i] = b
	}

	r, _ := utf8.DecodeRune(buf[:n])
	if r == utf8.RuneError {
		return KeyEvent{Key: KeyUnknown}, nil
	}

	return KeyEvent{Key: KeyRune, Rune: r}, nil
}

// LineEditor handles line-based text input for the filter prompt.
type LineEditor struct {
	buffer []rune
	cursor int
}

// NewLineEditor creates an empty LineEditor.
func NewLineEditor() *LineEditor {
	return &LineEditor{
		buffer: make([]rune, 0, 256),
		cursor: 0,
	}
}

// HandleKey processes a key event and updates the line buffer.
// Returns true if Enter was pressed (line complete), false otherwise.
func (e *LineEditor) HandleKey(ev KeyEvent) bool {
	switch ev.Key {
	case KeyEnter:
		return true
	case KeyBackspace:
		if e.cursor > 0 {
			// Remove character before cursor
			copy(e.buffer[e.cursor-1:], e.buffer[e.cursor:])
			e.buffer = e.buffer[:len(e.buffer)-1]
			e.cursor--
		}
	case KeyDelete:
		if e.cursor < len(e.buffer) {
			copy(e.buffer[e.cursor:], e.buffer[e.cursor+1:])
			e.buffer = e.buffer[:len(e.buffer)-1]
		}
	case KeyLeft:
		if e.cursor > 0 {
			e.cursor--
		}
	case KeyRight:
		if e.cursor < len(e.buffer) {
			e.cursor++
		}
	case KeyHome:
		e.cursor = 0
	case KeyEnd:
		e.cursor = len(e.buffer)
	case KeyRune:
		// Insert character at cursor
		e.buffer = append(e.buffer, 0)
		copy(e.buffer[e.cursor+1:], e.buffer[e.cursor:])
		e.buffer[e.cursor] = ev.Rune
		e.cursor++
	}
	return false
}

// Text returns the current line content.
func (e *LineEditor) Text() string {
	return string(e.buffer)
}

// SetText replaces the content and moves the cursor to the end.
func (e *LineEditor) SetText(s string) {
	e.buffer = append(e.buffer[:0], []rune(s)...)
	e.cursor = len(e.buffer)
}

// Clear resets the line editor.
func (e *LineEditor) Clear() {
	e.buffer = e.buffer[:0]
	e.cursor = 0
}

// Cursor returns the current cursor position.
func (e *LineEditor) Cursor() int {
	return e.cursor
}

// Len returns the length of the current buffer.
func (e *LineEditor) Len() int {
	return len(e.buffer)
}
