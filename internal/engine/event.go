// Package engine invokes terraform or tofu as a subprocess and models the
// machine-readable UI stream the binary emits on stdout when run with -json.
package engine

import "encoding/json"

// EventType identifies a record in the -json UI stream.
type EventType string

// Stream record types emitted by terraform/tofu.
const (
	TypeVersion           EventType = "version"
	TypeLog               EventType = "log"
	TypePlannedChange     EventType = "planned_change"
	TypeChangeSummary     EventType = "change_summary"
	TypeDiagnostic        EventType = "diagnostic"
	TypeResourceDrift     EventType = "resource_drift"
	TypeOutputs           EventType = "outputs"
	TypeApplyStart        EventType = "apply_start"
	TypeApplyProgress     EventType = "apply_progress"
	TypeApplyComplete     EventType = "apply_complete"
	TypeApplyErrored      EventType = "apply_errored"
	TypeProvisionStart    EventType = "provision_start"
	TypeProvisionProgress EventType = "provision_progress"
	TypeProvisionComplete EventType = "provision_complete"
	TypeProvisionErrored  EventType = "provision_errored"
	TypeRefreshStart      EventType = "refresh_start"
	TypeRefreshComplete   EventType = "refresh_complete"
)

// Change actions reported in planned_change and hook records.
const (
	ActionNoOp    = "noop"
	ActionCreate  = "create"
	ActionRead    = "read"
	ActionUpdate  = "update"
	ActionReplace = "replace"
	ActionDelete  = "delete"
	ActionMove    = "move"
	ActionImport  = "import"
)

// Event is one record of the machine-readable UI stream. The @-prefixed
// fields are present on every record; at most one of the payload pointers is
// set, according to Type.
type Event struct {
	Level     string    `json:"@level"`
	Message   string    `json:"@message"`
	Module    string    `json:"@module"`
	Timestamp string    `json:"@timestamp"`
	Type      EventType `json:"type"`

	// version records
	Terraform string `json:"terraform,omitempty"`
	Tofu      string `json:"tofu,omitempty"`
	UI        string `json:"ui,omitempty"`

	Change     *ResourceChange   `json:"change,omitempty"`
	Changes    *ChangeSummary    `json:"changes,omitempty"`
	Diagnostic *Diagnostic       `json:"diagnostic,omitempty"`
	Hook       *Hook             `json:"hook,omitempty"`
	Outputs    map[string]Output `json:"outputs,omitempty"`
}

// ResourceAddr identifies the resource instance a change or hook refers to.
// ResourceKey is the raw index for count/for_each instances (number or
// string), or JSON null for unkeyed resources.
type ResourceAddr struct {
	Addr            string          `json:"addr"`
	Module          string          `json:"module"`
	Resource        string          `json:"resource"`
	ImpliedProvider string          `json:"implied_provider"`
	ResourceType    string          `json:"resource_type"`
	ResourceName    string          `json:"resource_name"`
	ResourceKey     json.RawMessage `json:"resource_key,omitempty"`
}

// ResourceChange is the payload of planned_change and resource_drift records.
type ResourceChange struct {
	Resource ResourceAddr `json:"resource"`
	Action   string       `json:"action"`
	Reason   string       `json:"reason,omitempty"`
}

// ChangeSummary is the payload of change_summary records, the "Plan: 1 to
// add..." line in structured form.
type ChangeSummary struct {
	Add       int    `json:"add"`
	Change    int    `json:"change"`
	Import    int    `json:"import"`
	Remove    int    `json:"remove"`
	Operation string `json:"operation"`
}

// Diagnostic is the payload of diagnostic records.
type Diagnostic struct {
	Severity string           `json:"severity"`
	Summary  string           `json:"summary"`
	Detail   string           `json:"detail"`
	Address  string           `json:"address,omitempty"`
	Range    *DiagnosticRange `json:"range,omitempty"`
}

// Diagnostic severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// DiagnosticRange locates a diagnostic in source configuration.
type DiagnosticRange struct {
	Filename string        `json:"filename"`
	Start    DiagnosticPos `json:"start"`
	End      DiagnosticPos `json:"end"`
}

// DiagnosticPos is a position within a configuration file.
type DiagnosticPos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
	Byte   int `json:"byte"`
}

// Hook is the payload of apply_*, provision_* and refresh_* records,
// reporting per-resource operation progress.
type Hook struct {
	Resource       ResourceAddr `json:"resource"`
	Action         string       `json:"action,omitempty"`
	Stage          string       `json:"stage,omitempty"`
	Provisioner    string       `json:"provisioner,omitempty"`
	IDKey          string       `json:"id_key,omitempty"`
	IDValue        string       `json:"id_value,omitempty"`
	ElapsedSeconds float64      `json:"elapsed_seconds,omitempty"`
}

// Output is one entry of an outputs record. Type is kept raw because
// terraform encodes compound types as nested arrays, not plain strings.
type Output struct {
	Sensitive bool            `json:"sensitive"`
	Type      json.RawMessage `json:"type,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Action    string          `json:"action,omitempty"`
}

// ParseEvent decodes a single stream record.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// IsError reports whether the event carries an error: an error-severity
// diagnostic or an errored apply/provision hook.
func (e Event) IsError() bool {
	if e.Diagnostic != nil && e.Diagnostic.Severity == SeverityError {
		return true
	}
	switch e.Type {
	case TypeApplyErrored, TypeProvisionErrored:
		return true
	}
	return e.Level == "error"
}

// ResourceAddrString returns the resource address the event refers to, or ""
// for events that are not about a specific resource.
func (e Event) ResourceAddrString() string {
	switch {
	case e.Change != nil:
		return e.Change.Resource.Addr
	case e.Hook != nil:
		return e.Hook.Resource.Addr
	case e.Diagnostic != nil:
		return e.Diagnostic.Address
	}
	return ""
}
