// tui-demo is a manual test program for verifying dashboard rendering.
// Run with: go run ./cmd/tui-demo
//
// It plays a scripted fake run through the real Screen/Renderer pipeline:
// plan, confirm gate, apply with per-resource progress, done with outputs.
// All the usual keys work while it plays.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tfdeck/tfdeck/internal/tui"
)

func main() {
	fmt.Println("tfdeck TUI demo")
	fmt.Println("===============")
	fmt.Println()
	fmt.Println("A scripted run will play through every view. Keys:")
	fmt.Println("  1-4 / tab   switch view")
	fmt.Println("  j/k         scroll")
	fmt.Println("  f           toggle follow")
	fmt.Println("  y           confirm the apply gate when it appears")
	fmt.Println("  q / ctrl-c  quit")
	fmt.Println()
	fmt.Println("Press Enter to start...")
	fmt.Scanln()

	if err := runDemo(); err != nil {
		fmt.Fprintf(os.Stderr, "demo error: %v\n", err)
		os.Exit(1)
	}
}

// script is the fake resource set the demo walks through.
var script = []tui.ResourceRow{
	{Addr: "aws_vpc.main", Action: "create"},
	{Addr: "aws_subnet.public[0]", Action: "create"},
	{Addr: "aws_subnet.public[1]", Action: "create"},
	{Addr: "aws_security_group.web", Action: "update"},
	{Addr: "aws_instance.web[0]", Action: "replace"},
	{Addr: "aws_instance.web[1]", Action: "create"},
	{Addr: "aws_route53_record.www", Action: "update"},
	{Addr: "aws_s3_bucket.logs_legacy", Action: "delete"},
}

func runDemo() error {
	term := tui.NewTerminal(os.Stdin, os.Stdout)
	if err := term.EnterRaw(); err != nil {
		return err
	}
	defer term.ExitRaw()

	term.EnterAltScreen()
	defer term.ExitAltScreen()
	term.HideCursor()
	defer term.ShowCursor()

	keys, err := tui.NewKeyReader(term.In())
	if err != nil {
		return err
	}
	defer keys.Close()

	keyCh := make(chan tui.KeyEvent)
	go func() {
		defer close(keyCh)
		for {
			ev, err := keys.ReadEvent()
			if err != nil {
				return
			}
			keyCh <- ev
		}
	}()

	screen := tui.NewScreen(tui.DefaultStyles())
	renderer := tui.NewRenderer(term)

	frame := tui.Frame{
		Operation:     "apply",
		Dir:           "examples/web-cluster",
		Workspace:     "staging",
		EngineVersion: "terraform 1.9.5",
		RunID:         "run-demo",
		Phase:         "planning",
		Add:           4,
		Change:        2,
		Remove:        1,
		TotalCount:    len(script),
		Follow:        true,
		Tail:          []string{"terraform apply -json (demo)"},
	}

	started := time.Now()
	step := 0
	draw := func() {
		frame.Elapsed = time.Since(started)
		w, h, err := term.Size()
		if err != nil {
			w, h = 100, 30
		}
		renderer.Draw(screen.Render(frame, w, h))
	}
	draw()

	ticker := time.NewTicker(600 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-keyCh:
			if !ok {
				return nil
			}
			switch {
			case ev.Key == tui.KeyCtrlC,
				ev.Key == tui.KeyRune && ev.Rune == 'q':
				return nil
			case ev.Key == tui.KeyTab:
				frame.View = (frame.View + 1) % 4
			case ev.Key == tui.KeyRune && ev.Rune >= '1' && ev.Rune <= '4':
				frame.View = tui.View(ev.Rune - '1')
			case ev.Key == tui.KeyRune && ev.Rune == 'j', ev.Key == tui.KeyDown:
				frame.Scroll++
				frame.Follow = false
			case ev.Key == tui.KeyRune && ev.Rune == 'k', ev.Key == tui.KeyUp:
				if frame.Scroll > 0 {
					frame.Scroll--
				}
				frame.Follow = false
			case ev.Key == tui.KeyRune && ev.Rune == 'f':
				frame.Follow = !frame.Follow
			case ev.Key == tui.KeyRune && ev.Rune == 'y':
				if frame.ConfirmPending {
					frame.ConfirmPending = false
					frame.Phase = "applying"
					frame.Tail = append(frame.Tail, "apply confirmed")
				}
			case ev.Key == tui.KeyRune && ev.Rune == 'n':
				if frame.ConfirmPending {
					frame.ConfirmPending = false
					frame.Phase = "cancelled"
					frame.Tail = append(frame.Tail, "apply declined")
				}
			}
			draw()

		case <-ticker.C:
			advance(&frame, &step)
			draw()
		}
	}
}

// advance moves the scripted run forward one tick.
func advance(f *tui.Frame, step *int) {
	switch {
	case f.Phase == "planning":
		// Plan discovers one resource per tick, then waits at the gate.
		n := len(f.Resources)
		if n < len(script) {
			r := script[n]
			r.Status = "pending"
			f.Resources = append(f.Resources, r)
			f.Tail = append(f.Tail, fmt.Sprintf("plan: %s will be %sd", r.Addr, r.Action))
			return
		}
		f.Phase = "confirming"
		f.ConfirmPending = true
		f.Tail = append(f.Tail, "plan complete, waiting for confirmation")

	case f.Phase == "applying":
		// Three ticks per resource: start, progress, done.
		i := *step / 3
		if i >= len(f.Resources) {
			f.Phase = "done"
			f.Outputs = []tui.OutputRow{
				{Name: "cluster_endpoint", Value: `"https://web.demo.example.com"`},
				{Name: "instance_count", Value: "2"},
				{Name: "admin_password", Sensitive: true},
			}
			f.Warnings = 1
			f.Diags = append(f.Diags, tui.DiagRow{
				Severity: "warning",
				Summary:  "deprecated attribute",
				Detail:   "instance_type on aws_instance.web[0] uses a deprecated value; switch to t3.medium before the next major provider release.",
				Address:  "aws_instance.web[0]",
				Range:    "web.tf:41",
			})
			f.Tail = append(f.Tail, "apply complete")
			return
		}
		switch *step % 3 {
		case 0:
			f.Resources[i].Status = "running"
			f.Tail = append(f.Tail, fmt.Sprintf("%s: %s in progress", f.Resources[i].Addr, f.Resources[i].Action))
		case 1:
			f.Resources[i].Elapsed += 600 * time.Millisecond
		case 2:
			f.Resources[i].Status = "done"
			f.Resources[i].Elapsed += 600 * time.Millisecond
			f.DoneCount++
			f.Tail = append(f.Tail, fmt.Sprintf("%s: %s complete", f.Resources[i].Addr, f.Resources[i].Action))
		}
		*step++
	}
}
