package tui

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// Notifier alerts the user when a run needs attention. When the dashboard
// is in the foreground it uses the terminal bell; otherwise it falls back
// to OS-native notifications.
type Notifier struct {
	out io.Writer
}

// NewNotifier creates a Notifier that writes bell to the given output.
func NewNotifier(out io.Writer) *Notifier {
	return &Notifier{out: out}
}

// Bell writes the terminal bell character to output.
// This produces an audible alert when the terminal is in the foreground.
func (n *Notifier) Bell() {
	fmt.Fprint(n.out, Bell)
}

// NotifyOS sends an OS-native notification.
// On macOS, this uses osascript to display a notification.
// On other platforms, this is a no-op.
func (n *Notifier) NotifyOS(title, message string) error {
	if runtime.GOOS != "darwin" {
		return nil
	}
	return notifyMacOS(title, message)
}

// NotifyAttention sends a notification requiring user attention.
// If isForeground is true, it rings the terminal bell.
// If isForeground is false, it sends an OS notification.
func (n *Notifier) NotifyAttention(title, message string, isForeground bool) error {
	if isForeground {
		n.Bell()
		return nil
	}
	return n.NotifyOS(title, message)
}

// notifyMacOS sends a notification using osascript on macOS.
func notifyMacOS(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	cmd := exec.Command("osascript", "-e", script)
	return cmd.Run()
}

// NotificationReason represents why a notification is being sent.
type NotificationReason int

const (
	NotifyReasonConfirm NotificationReason = iota
	NotifyReasonDone
	NotifyReasonFailed
	NotifyReasonCancelled
)

// String returns a human-readable title for the notification reason.
func (r NotificationReason) String() string {
	switch r {
	case NotifyReasonConfirm:
		return "Confirmation Required"
	case NotifyReasonDone:
		return "Completed"
	case NotifyReasonFailed:
		return "Failed"
	case NotifyReasonCancelled:
		return "Cancelled"
	default:
		return "tfdeck"
	}
}

// DefaultMessage returns a default notification message for the reason.
func (r NotificationReason) DefaultMessage(operation string) string {
	switch r {
	case NotifyReasonConfirm:
		return fmt.Sprintf("%s finished planning and is waiting for your confirmation", operation)
	case NotifyReasonDone:
		return fmt.Sprintf("%s completed successfully", operation)
	case NotifyReasonFailed:
		return fmt.Sprintf("%s failed", operation)
	case NotifyReasonCancelled:
		return fmt.Sprintf("%s was cancelled", operation)
	default:
		return fmt.Sprintf("%s needs attention", operation)
	}
}

// NotifyForReason sends a notification for the given reason.
// It uses the reason to determine the title and message.
func (n *Notifier) NotifyForReason(reason NotificationReason, operation string, isForeground bool) error {
	title := "tfdeck: " + reason.String()
	message := reason.DefaultMessage(operation)
	return n.NotifyAttention(title, message, isForeground)
}
