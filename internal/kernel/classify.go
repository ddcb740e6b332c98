package kernel

import "strings"

// RestartSignal is the exception name raised by the overridden exit(),
// quit(), sys.exit() and os._exit() inside the interpreter. An error event
// carrying exactly this name is a restart request, not a failure.
const RestartSignal = "KernelRestartRequested"

// Outcome tells the drain loop what an event means for the execution status.
type Outcome int

const (
	// OutcomeContinue: keep draining, status unchanged.
	OutcomeContinue Outcome = iota
	// OutcomeError: the executed code raised; status becomes error.
	OutcomeError
	// OutcomeRestart: the executed code asked to exit; stop draining.
	OutcomeRestart
	// OutcomeIdle: the submission finished; stop draining.
	OutcomeIdle
)

// mimePriority is the order in which a mime bundle is searched. Only the
// first match becomes a record.
var mimePriority = []struct {
	mime   string
	kind   string
	format string
}{
	{mime: "image/png", kind: OutputImage, format: "png"},
	{mime: "image/jpeg", kind: OutputImage, format: "jpeg"},
	{mime: "text/html", kind: OutputHTML},
	{mime: "text/plain", kind: OutputText},
}

// Classify maps one interpreter event to zero or one output record and the
// status transition it implies. It has no side effects.
func Classify(ev Event) (*OutputRecord, Outcome) {
	switch ev.Type {
	case EventStream:
		rec := StreamRecord(ev.Name, ev.Text)
		return &rec, OutcomeContinue

	case EventExecuteResult, EventDisplayData:
		return classifyBundle(ev.Data), OutcomeContinue

	case EventError:
		if ev.EName == RestartSignal {
			text := ev.EValue
			if !strings.HasSuffix(text, "\n") {
				text += "\n"
			}
			rec := StreamRecord("stdout", text)
			return &rec, OutcomeRestart
		}
		name := ev.EName
		if name == "" {
			name = "Error"
		}
		rec := ErrorRecord(name, ev.EValue, ev.Traceback)
		return &rec, OutcomeError

	case EventStatus:
		if ev.State == StateIdle {
			return nil, OutcomeIdle
		}
	}

	return nil, OutcomeContinue
}

func classifyBundle(data map[string]string) *OutputRecord {
	for _, p := range mimePriority {
		value, ok := data[p.mime]
		if !ok {
			continue
		}
		return &OutputRecord{Type: p.kind, Content: value, Format: p.format}
	}
	return nil
}
