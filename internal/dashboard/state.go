// Package dashboard glues the engine subprocess, the key reader, the history
// store and the terminal renderer together behind one controller. All state
// lives in State and is mutated only through actions on the controller's
// apply goroutine; everything else reads immutable snapshots.
package dashboard

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tfdeck/tfdeck/internal/controller"
	"github.com/tfdeck/tfdeck/internal/engine"
	"github.com/tfdeck/tfdeck/internal/history"
	"github.com/tfdeck/tfdeck/internal/tui"
)

// Phase is the dashboard lifecycle stage shown in the status line.
type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhasePlanning   Phase = "planning"
	PhaseApplying   Phase = "applying"
	PhaseConfirming Phase = "confirming"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether the phase is an end state.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseDone, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Resource row statuses, shared with the resource view's glyphs.
const (
	statusPending = "pending"
	statusRunning = "running"
	statusDone    = "done"
	statusErrored = "errored"
)

const defaultTailCap = 500

// resourceEntry tracks one resource address from planned change through
// apply completion. Entries are kept in first-seen order.
type resourceEntry struct {
	addr      string
	action    string
	status    string
	startedAt time.Time
	elapsed   time.Duration
}

type diagEntry struct {
	severity string
	summary  string
	detail   string
	address  string
	rng      string
}

type outputEntry struct {
	name      string
	value     string
	sensitive bool
}

// State is the single mutable dashboard state.
type State struct {
	RunID         string
	Operation     engine.Operation
	Command       string
	Dir           string
	Workspace     string
	EngineVersion string
	StartedAt     time.Time
	FinishedAt    time.Time

	Phase    Phase
	ExitCode int

	Add    int
	Change int
	Remove int

	DoneCount  int
	TotalCount int
	Errors     int
	Warnings   int

	resources []*resourceEntry
	byAddr    map[string]*resourceEntry
	diags     []diagEntry
	outputs   []outputEntry

	tail    []string
	tailCap int
	tailSeq int

	Elapsed        time.Duration
	Stale          bool
	StalledFor     time.Duration
	DecodeFailures int

	lastEventAt time.Time

	View           tui.View
	Follow         bool
	Scroll         int
	Filter         string
	FilterInput    string
	FilterActive   bool
	ConfirmPending bool

	// wiring installed by the app
	store    *history.Store
	stage2   controller.Task[State]
	autoQuit bool
	attached bool
}

// newState builds the initial state for a run about to start.
func newState(runID string, op engine.Operation, cmd engine.Command, workspace string, tailCap int) State {
	if tailCap <= 0 {
		tailCap = defaultTailCap
	}
	now := time.Now().UTC()
	return State{
		RunID:       runID,
		Operation:   op,
		Command:     cmd.String(),
		Dir:         cmd.Dir,
		Workspace:   workspace,
		StartedAt:   now,
		Phase:       PhasePreparing,
		byAddr:      make(map[string]*resourceEntry),
		tailCap:     tailCap,
		View:        tui.ViewSummary,
		Follow:      true,
		lastEventAt: now,
	}
}

// applyEvent folds one decoded engine stream record into the state.
func (s *State) applyEvent(ev engine.Event) {
	if s.Phase == PhasePreparing {
		s.Phase = PhasePlanning
	}
	s.lastEventAt = time.Now()
	s.StalledFor = 0

	switch ev.Type {
	case engine.TypeVersion:
		if v := engineVersionString(ev); v != "" {
			s.EngineVersion = v
		}

	case engine.TypePlannedChange:
		if ev.Change != nil && ev.Change.Action != engine.ActionNoOp {
			s.upsertResource(ev.Change.Resource.Addr, ev.Change.Action)
		}

	case engine.TypeChangeSummary:
		if ev.Changes != nil {
			s.Add = ev.Changes.Add
			s.Change = ev.Changes.Change
			s.Remove = ev.Changes.Remove
			// The plan-operation summary fixes the amount of work ahead;
			// the apply summary merely restates what happened.
			if ev.Changes.Operation == "plan" {
				s.TotalCount = s.Add + s.Change + s.Remove
			}
		}

	case engine.TypeApplyStart:
		if s.Phase == PhasePlanning {
			s.Phase = PhaseApplying
		}
		if ev.Hook != nil {
			e := s.upsertResource(ev.Hook.Resource.Addr, ev.Hook.Action)
			e.status = statusRunning
			e.startedAt = eventTime(ev)
		}

	case engine.TypeApplyProgress:
		if ev.Hook != nil {
			e := s.upsertResource(ev.Hook.Resource.Addr, ev.Hook.Action)
			e.status = statusRunning
			if ev.Hook.ElapsedSeconds > 0 {
				e.elapsed = secondsToDuration(ev.Hook.ElapsedSeconds)
			}
		}

	case engine.TypeApplyComplete:
		if ev.Hook != nil {
			e := s.upsertResource(ev.Hook.Resource.Addr, ev.Hook.Action)
			e.status = statusDone
			if ev.Hook.ElapsedSeconds > 0 {
				e.elapsed = secondsToDuration(ev.Hook.ElapsedSeconds)
			}
			s.DoneCount++
		}

	case engine.TypeApplyErrored:
		if ev.Hook != nil {
			e := s.upsertResource(ev.Hook.Resource.Addr, ev.Hook.Action)
			e.status = statusErrored
			if ev.Hook.ElapsedSeconds > 0 {
				e.elapsed = secondsToDuration(ev.Hook.ElapsedSeconds)
			}
			s.DoneCount++
		}

	case engine.TypeDiagnostic:
		if ev.Diagnostic != nil {
			s.addDiagnostic(*ev.Diagnostic)
		}

	case engine.TypeOutputs:
		s.setOutputs(ev.Outputs)
	}

	if msg := tailMessage(ev); msg != "" {
		s.appendTail(msg)
	}
}

// upsertResource returns the entry for addr, creating it in arrival order.
// A non-empty action updates the recorded one; hooks sometimes carry a more
// specific action than the planned change did.
func (s *State) upsertResource(addr, action string) *resourceEntry {
	if addr == "" {
		addr = "(unknown)"
	}
	if e, ok := s.byAddr[addr]; ok {
		if action != "" {
			e.action = action
		}
		return e
	}
	e := &resourceEntry{addr: addr, action: action, status: statusPending}
	s.byAddr[addr] = e
	s.resources = append(s.resources, e)
	return e
}

func (s *State) addDiagnostic(d engine.Diagnostic) {
	entry := diagEntry{
		severity: d.Severity,
		summary:  d.Summary,
		detail:   d.Detail,
		address:  d.Address,
	}
	if d.Range != nil {
		entry.rng = fmt.Sprintf("%s:%d,%d", d.Range.Filename, d.Range.Start.Line, d.Range.Start.Column)
	}
	s.diags = append(s.diags, entry)

	switch d.Severity {
	case engine.SeverityError:
		s.Errors++
		if e, ok := s.byAddr[d.Address]; ok {
			e.status = statusErrored
		}
	case engine.SeverityWarning:
		s.Warnings++
	}
}

func (s *State) setOutputs(outs map[string]engine.Output) {
	names := make([]string, 0, len(outs))
	for n := range outs {
		names = append(names, n)
	}
	sort.Strings(names)

	s.outputs = s.outputs[:0]
	for _, n := range names {
		o := outs[n]
		s.outputs = append(s.outputs, outputEntry{
			name:      n,
			value:     outputValueString(o),
			sensitive: o.Sensitive,
		})
	}
}

// appendTail pushes a line onto the bounded tail ring.
func (s *State) appendTail(line string) {
	s.tail = append(s.tail, line)
	s.tailSeq++
	if len(s.tail) > s.tailCap {
		s.tail = s.tail[len(s.tail)-s.tailCap:]
	}
}

// TailAfter returns the tail lines appended after seq and the new sequence
// position. Lines already trimmed from the ring are lost.
func (s *State) TailAfter(seq int) ([]string, int) {
	if seq >= s.tailSeq {
		return nil, s.tailSeq
	}
	n := s.tailSeq - seq
	if n > len(s.tail) {
		n = len(s.tail)
	}
	return s.tail[len(s.tail)-n:], s.tailSeq
}

// Frame builds the render snapshot for the current state. The resource
// filter is applied here so the views only window and paint.
func (s *State) Frame() tui.Frame {
	f := tui.Frame{
		Operation:      string(s.Operation),
		Dir:            s.Dir,
		Workspace:      s.Workspace,
		EngineVersion:  s.EngineVersion,
		RunID:          s.RunID,
		Phase:          string(s.Phase),
		Elapsed:        s.Elapsed,
		Stale:          s.Stale,
		StalledFor:     s.StalledFor,
		Add:            s.Add,
		Change:         s.Change,
		Remove:         s.Remove,
		DoneCount:      s.DoneCount,
		TotalCount:     s.TotalCount,
		Errors:         s.Errors,
		Warnings:       s.Warnings,
		View:           s.View,
		Follow:         s.Follow,
		Filter:         s.Filter,
		FilterInput:    s.FilterInput,
		FilterActive:   s.FilterActive,
		Scroll:         s.Scroll,
		DecodeFailures: s.DecodeFailures,
		ConfirmPending: s.ConfirmPending,
	}

	for _, e := range s.resources {
		if s.Filter != "" && !strings.Contains(e.addr, s.Filter) {
			continue
		}
		f.Resources = append(f.Resources, tui.ResourceRow{
			Addr:    e.addr,
			Action:  e.action,
			Status:  e.status,
			Elapsed: e.elapsed,
		})
	}
	for _, d := range s.diags {
		f.Diags = append(f.Diags, tui.DiagRow{
			Severity: d.severity,
			Summary:  d.summary,
			Detail:   d.detail,
			Address:  d.address,
			Range:    d.rng,
		})
	}
	for _, o := range s.outputs {
		f.Outputs = append(f.Outputs, tui.OutputRow{
			Name:      o.name,
			Value:     o.value,
			Sensitive: o.sensitive,
		})
	}
	// copy: the ring mutates in place after the frame escapes the lock
	f.Tail = append([]string(nil), s.tail...)
	return f
}

// Snapshot is the externally visible state document: printed as the final
// result in headless mode and served by the share server.
type Snapshot struct {
	RunID          string             `json:"run_id"`
	Operation      string             `json:"operation"`
	Command        string             `json:"command"`
	Workspace      string             `json:"workspace"`
	EngineVersion  string             `json:"engine_version,omitempty"`
	Phase          string             `json:"phase"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at,omitzero"`
	ExitCode       int                `json:"exit_code"`
	Add            int                `json:"add"`
	Change         int                `json:"change"`
	Remove         int                `json:"remove"`
	Done           int                `json:"done"`
	Total          int                `json:"total"`
	Errors         int                `json:"errors"`
	Warnings       int                `json:"warnings"`
	DecodeFailures int                `json:"decode_failures,omitempty"`
	Stale          bool               `json:"stale,omitempty"`
	Resources      []SnapshotResource `json:"resources,omitempty"`
	Diagnostics    []SnapshotDiag     `json:"diagnostics,omitempty"`
	Outputs        []SnapshotOutput   `json:"outputs,omitempty"`
	Tail           []string           `json:"tail,omitempty"`
}

// SnapshotResource is one resource row of a Snapshot.
type SnapshotResource struct {
	Addr           string  `json:"addr"`
	Action         string  `json:"action"`
	Status         string  `json:"status"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
}

// SnapshotDiag is one diagnostic of a Snapshot.
type SnapshotDiag struct {
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
	Detail   string `json:"detail,omitempty"`
	Address  string `json:"address,omitempty"`
	Range    string `json:"range,omitempty"`
}

// SnapshotOutput is one output value of a Snapshot. Sensitive values are
// withheld, not masked.
type SnapshotOutput struct {
	Name      string `json:"name"`
	Value     string `json:"value,omitempty"`
	Sensitive bool   `json:"sensitive,omitempty"`
}

// Snapshot captures the full state, unfiltered.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		RunID:          s.RunID,
		Operation:      string(s.Operation),
		Command:        s.Command,
		Workspace:      s.Workspace,
		EngineVersion:  s.EngineVersion,
		Phase:          string(s.Phase),
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		ExitCode:       s.ExitCode,
		Add:            s.Add,
		Change:         s.Change,
		Remove:         s.Remove,
		Done:           s.DoneCount,
		Total:          s.TotalCount,
		Errors:         s.Errors,
		Warnings:       s.Warnings,
		DecodeFailures: s.DecodeFailures,
		Stale:          s.Stale,
	}
	for _, e := range s.resources {
		snap.Resources = append(snap.Resources, SnapshotResource{
			Addr:           e.addr,
			Action:         e.action,
			Status:         e.status,
			ElapsedSeconds: e.elapsed.Seconds(),
		})
	}
	for _, d := range s.diags {
		snap.Diagnostics = append(snap.Diagnostics, SnapshotDiag{
			Severity: d.severity,
			Summary:  d.summary,
			Detail:   d.detail,
			Address:  d.address,
			Range:    d.rng,
		})
	}
	for _, o := range s.outputs {
		snap.Outputs = append(snap.Outputs, SnapshotOutput{
			Name:      o.name,
			Value:     o.value,
			Sensitive: o.sensitive,
		})
	}
	snap.Tail = append([]string(nil), s.tail...)
	return snap
}

// restoreSnapshot loads a published snapshot into the state, replacing run
// progress wholesale. UI-local fields (view, scroll, filter, follow) are
// left alone so an attached watcher keeps their place.
func (s *State) restoreSnapshot(snap Snapshot) {
	s.RunID = snap.RunID
	s.Operation = engine.Operation(snap.Operation)
	s.Command = snap.Command
	s.Workspace = snap.Workspace
	s.EngineVersion = snap.EngineVersion
	s.Phase = Phase(snap.Phase)
	s.StartedAt = snap.StartedAt
	s.FinishedAt = snap.FinishedAt
	s.ExitCode = snap.ExitCode
	s.Add = snap.Add
	s.Change = snap.Change
	s.Remove = snap.Remove
	s.DoneCount = snap.Done
	s.TotalCount = snap.Total
	s.Errors = snap.Errors
	s.Warnings = snap.Warnings
	s.DecodeFailures = snap.DecodeFailures
	s.Stale = snap.Stale

	switch {
	case !snap.FinishedAt.IsZero():
		s.Elapsed = snap.FinishedAt.Sub(snap.StartedAt)
	case !snap.StartedAt.IsZero():
		// Skewed publisher clocks must not render a negative runtime.
		if s.Elapsed = time.Since(snap.StartedAt); s.Elapsed < 0 {
			s.Elapsed = 0
		}
	}

	s.resources = s.resources[:0]
	s.byAddr = make(map[string]*resourceEntry, len(snap.Resources))
	for _, r := range snap.Resources {
		e := &resourceEntry{
			addr:    r.Addr,
			action:  r.Action,
			status:  r.Status,
			elapsed: secondsToDuration(r.ElapsedSeconds),
		}
		s.byAddr[e.addr] = e
		s.resources = append(s.resources, e)
	}

	s.diags = s.diags[:0]
	for _, d := range snap.Diagnostics {
		s.diags = append(s.diags, diagEntry{
			severity: d.Severity,
			summary:  d.Summary,
			detail:   d.Detail,
			address:  d.Address,
			rng:      d.Range,
		})
	}

	s.outputs = s.outputs[:0]
	for _, o := range snap.Outputs {
		s.outputs = append(s.outputs, outputEntry{name: o.Name, value: o.Value, sensitive: o.Sensitive})
	}

	lines := snap.Tail
	if len(lines) > s.tailCap {
		lines = lines[len(lines)-s.tailCap:]
	}
	s.tail = append(s.tail[:0], lines...)
	// Replacement counts as fresh lines so TailAfter stays monotonic.
	s.tailSeq += len(lines)
}

// recordFromSnapshot converts a snapshot into a history record mutation.
func recordFromSnapshot(snap Snapshot) func(*history.RunRecord) {
	return func(r *history.RunRecord) {
		r.EngineVersion = snap.EngineVersion
		r.FinishedAt = snap.FinishedAt
		r.Outcome = outcomeForPhase(Phase(snap.Phase))
		r.ExitCode = snap.ExitCode
		r.Added = snap.Add
		r.Changed = snap.Change
		r.Removed = snap.Remove
		r.Errors = snap.Errors
		r.Warnings = snap.Warnings
	}
}

func outcomeForPhase(p Phase) string {
	switch p {
	case PhaseDone:
		return history.OutcomeSucceeded
	case PhaseFailed:
		return history.OutcomeFailed
	case PhaseCancelled:
		return history.OutcomeCanceled
	}
	return history.OutcomeRunning
}

func engineVersionString(ev engine.Event) string {
	switch {
	case ev.Terraform != "":
		return "terraform v" + ev.Terraform
	case ev.Tofu != "":
		return "tofu v" + ev.Tofu
	}
	return ""
}

// eventTime parses the record timestamp, falling back to the wall clock.
func eventTime(ev engine.Event) time.Time {
	if t, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
		return t
	}
	return time.Now().UTC()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// tailMessage renders one event as a tail line: the engine's own human text,
// prefixed with the level when it is not plain info.
func tailMessage(ev engine.Event) string {
	if ev.Message == "" {
		return ""
	}
	if ev.Level != "" && ev.Level != "info" {
		return "[" + ev.Level + "] " + ev.Message
	}
	return ev.Message
}

// outputValueString renders an output value for display. Plain JSON strings
// lose their quotes; compound values stay raw JSON. Sensitive values are
// never rendered.
func outputValueString(o engine.Output) string {
	if o.Sensitive {
		return ""
	}
	var sv string
	if err := json.Unmarshal(o.Value, &sv); err == nil {
		return sv
	}
	return strings.TrimSpace(string(o.Value))
}
