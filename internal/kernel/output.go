package kernel

import "fmt"

// Output record kinds. These are the values of OutputRecord.Type on the wire.
const (
	OutputStream = "stream"
	OutputText   = "text"
	OutputHTML   = "html"
	OutputImage  = "image"
	OutputError  = "error"
)

// OutputRecord is one normalized output of an execution.
//
// The JSON shape is what the notebook frontend renders:
//
//	{"type":"stream","name":"stdout","content":"hi\n"}
//	{"type":"text","content":"42"}
//	{"type":"html","content":"<table>...</table>"}
//	{"type":"image","content":"iVBORw0...","format":"png"}
//	{"type":"error","ename":"ZeroDivisionError","evalue":"division by zero","traceback":[...]}
type OutputRecord struct {
	Type      string   `json:"type"`
	Name      string   `json:"name,omitempty"`
	Content   string   `json:"content,omitempty"`
	Format    string   `json:"format,omitempty"`
	EName     string   `json:"ename,omitempty"`
	EValue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// Status is the final status of one execution.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"

	// StatusRestartNeeded is produced by Session when the executed code asked
	// the interpreter to exit. The Controller never lets it reach a caller.
	StatusRestartNeeded Status = "restart_needed"
)

// Result is the outcome of one execution request. Outputs preserve the
// interpreter's emission order.
type Result struct {
	Outputs   []OutputRecord `json:"outputs"`
	Status    Status         `json:"status"`
	SessionID string         `json:"session_id,omitempty"`
}

// Request is one execution request. A nonzero SequenceID is prepended to the
// submitted source as a "# Cell N" marker so tracebacks can be traced back.
type Request struct {
	Code       string `json:"code"`
	SequenceID *int   `json:"cell_id,omitempty"`
}

// StreamRecord builds a stream output.
func StreamRecord(name, text string) OutputRecord {
	return OutputRecord{Type: OutputStream, Name: name, Content: text}
}

// ErrorRecord builds an error output.
func ErrorRecord(name, value string, traceback []string) OutputRecord {
	if traceback == nil {
		traceback = []string{}
	}
	return OutputRecord{Type: OutputError, EName: name, EValue: value, Traceback: traceback}
}

// executionErrorResult is the single-record result used whenever talking to
// the interpreter itself failed.
func executionErrorResult(err error, sessionID string) Result {
	msg := err.Error()
	return Result{
		Outputs:   []OutputRecord{ErrorRecord("ExecutionError", msg, []string{msg})},
		Status:    StatusError,
		SessionID: sessionID,
	}
}

// timeoutRecord is appended when an execution exceeds its ceiling.
func timeoutRecord(ceiling fmt.Stringer) OutputRecord {
	return ErrorRecord("TimeoutError", fmt.Sprintf("Cell execution exceeded %s", ceiling), nil)
}
