package dashboard

import (
	"github.com/tfdeck/tfdeck/internal/controller"
	"github.com/tfdeck/tfdeck/internal/tui"
)

// pageScroll is the page-up/page-down step.
const pageScroll = 10

// keyHandler translates key events into actions. The filter editor lives
// here rather than in State: the translate loop is the only goroutine that
// sees keys, and the state only needs the echoed text.
type keyHandler struct {
	editing bool
	editor  *tui.LineEditor
}

func newKeyHandler() *keyHandler {
	return &keyHandler{editor: tui.NewLineEditor()}
}

// HandleEvent implements controller.Handler.
func (h *keyHandler) HandleEvent(ev tui.KeyEvent, d *controller.Dispatch[State]) error {
	if ev.Key == tui.KeyCtrlC {
		d.Action(quitAction{})
		return nil
	}
	if h.editing {
		h.handleEditing(ev, d)
		return nil
	}

	switch ev.Key {
	case tui.KeyTab:
		d.Action(switchViewAction{next: true})
	case tui.KeyUp:
		d.Action(scrollAction{delta: -1})
	case tui.KeyDown:
		d.Action(scrollAction{delta: 1})
	case tui.KeyPgUp:
		d.Action(scrollAction{delta: -pageScroll})
	case tui.KeyPgDn:
		d.Action(scrollAction{delta: pageScroll})
	case tui.KeyHome:
		d.Action(scrollAction{top: true})
	case tui.KeyEnd:
		d.Action(scrollAction{bottom: true})
	case tui.KeyRune:
		h.handleRune(ev.Rune, d)
	}
	return nil
}

func (h *keyHandler) handleRune(r rune, d *controller.Dispatch[State]) {
	switch r {
	case 'q':
		d.Action(quitAction{})
	case '1':
		d.Action(switchViewAction{view: tui.ViewSummary})
	case '2':
		d.Action(switchViewAction{view: tui.ViewResources})
	case '3':
		d.Action(switchViewAction{view: tui.ViewDiags})
	case '4':
		d.Action(switchViewAction{view: tui.ViewTail})
	case 'j':
		d.Action(scrollAction{delta: 1})
	case 'k':
		d.Action(scrollAction{delta: -1})
	case 'g':
		d.Action(scrollAction{top: true})
	case 'G':
		d.Action(scrollAction{bottom: true})
	case 'f':
		d.Action(toggleFollowAction{})
	case 'y':
		d.Action(confirmAction{accept: true})
	case 'n':
		d.Action(confirmAction{accept: false})
	case '/':
		h.editing = true
		h.editor.Clear()
		d.Action(filterAction{editing: true})
	}
}

// handleEditing feeds keys to the line editor while the filter prompt is
// open. Enter commits the text, escape commits empty, clearing the filter.
func (h *keyHandler) handleEditing(ev tui.KeyEvent, d *controller.Dispatch[State]) {
	switch ev.Key {
	case tui.KeyEnter:
		h.editing = false
		d.Action(filterAction{commit: true, text: h.editor.Text()})
	case tui.KeyEscape:
		h.editing = false
		h.editor.Clear()
		d.Action(filterAction{commit: true})
	default:
		h.editor.HandleKey(ev)
		d.Action(filterAction{editing: true, text: h.editor.Text()})
	}
}
