package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		want    *OutputRecord
		outcome Outcome
	}{
		{
			name:    "stream passes through",
			event:   Event{Type: EventStream, Name: "stderr", Text: "warn\n"},
			want:    &OutputRecord{Type: OutputStream, Name: "stderr", Content: "warn\n"},
			outcome: OutcomeContinue,
		},
		{
			name:    "png wins over everything",
			event:   Event{Type: EventDisplayData, Data: map[string]string{"image/png": "AAA", "text/html": "<b>", "text/plain": "fig"}},
			want:    &OutputRecord{Type: OutputImage, Content: "AAA", Format: "png"},
			outcome: OutcomeContinue,
		},
		{
			name:    "jpeg when no png",
			event:   Event{Type: EventExecuteResult, Data: map[string]string{"image/jpeg": "JJJ", "text/plain": "img"}},
			want:    &OutputRecord{Type: OutputImage, Content: "JJJ", Format: "jpeg"},
			outcome: OutcomeContinue,
		},
		{
			name:    "html over plain",
			event:   Event{Type: EventExecuteResult, Data: map[string]string{"text/html": "<table></table>", "text/plain": "df"}},
			want:    &OutputRecord{Type: OutputHTML, Content: "<table></table>"},
			outcome: OutcomeContinue,
		},
		{
			name:    "plain text result",
			event:   Event{Type: EventExecuteResult, Data: map[string]string{"text/plain": "42"}},
			want:    &OutputRecord{Type: OutputText, Content: "42"},
			outcome: OutcomeContinue,
		},
		{
			name:    "unknown bundle yields nothing",
			event:   Event{Type: EventDisplayData, Data: map[string]string{"application/json": "{}"}},
			want:    nil,
			outcome: OutcomeContinue,
		},
		{
			name:  "error",
			event: Event{Type: EventError, EName: "NameError", EValue: "name 'x' is not defined", Traceback: []string{"tb"}},
			want: &OutputRecord{
				Type: OutputError, EName: "NameError", EValue: "name 'x' is not defined", Traceback: []string{"tb"},
			},
			outcome: OutcomeError,
		},
		{
			name:    "error without a name",
			event:   Event{Type: EventError, EValue: "boom"},
			want:    &OutputRecord{Type: OutputError, EName: "Error", EValue: "boom", Traceback: []string{}},
			outcome: OutcomeError,
		},
		{
			name:    "restart request becomes stdout",
			event:   Event{Type: EventError, EName: RestartSignal, EValue: "exit() was called"},
			want:    &OutputRecord{Type: OutputStream, Name: "stdout", Content: "exit() was called\n"},
			outcome: OutcomeRestart,
		},
		{
			name:    "busy is ignored",
			event:   Event{Type: EventStatus, State: "busy"},
			want:    nil,
			outcome: OutcomeContinue,
		},
		{
			name:    "idle ends the execution",
			event:   Event{Type: EventStatus, State: StateIdle},
			want:    nil,
			outcome: OutcomeIdle,
		},
		{
			name:    "unknown types are ignored",
			event:   Event{Type: "comm_open"},
			want:    nil,
			outcome: OutcomeContinue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, outcome := Classify(tt.event)
			assert.Equal(t, tt.outcome, outcome)
			if tt.want == nil {
				assert.Nil(t, rec)
				return
			}
			require.NotNil(t, rec)
			assert.Equal(t, *tt.want, *rec)
		})
	}
}
