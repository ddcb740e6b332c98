package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sakif/notebook-server/internal/apperror"
	"github.com/sakif/notebook-server/internal/chat"
	"github.com/sakif/notebook-server/internal/observability"
)

// fakeStreamer replays a fixed set of chunks.
type fakeStreamer struct {
	chunks []chat.Chunk
	err    error
	got    []chat.Message
}

func (f *fakeStreamer) Stream(_ context.Context, msgs []chat.Message) (<-chan chat.Chunk, error) {
	f.got = msgs
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan chat.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func TestChatComplete(t *testing.T) {
	up := &fakeStreamer{chunks: []chat.Chunk{{Delta: "Hello"}, {Delta: ", world"}}}
	svc := NewChatService(up, "", testLogger())

	history := []chat.Message{{Role: chat.RoleUser, Content: "earlier"}}
	got, err := svc.Complete(context.Background(), "hi", history)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "Hello, world" {
		t.Errorf("Complete() = %q", got)
	}

	if len(up.got) != 3 {
		t.Fatalf("upstream got %d messages, want 3", len(up.got))
	}
	if up.got[0].Content != chat.DefaultSystemPrompt || up.got[2].Content != "hi" {
		t.Errorf("unexpected upstream messages: %+v", up.got)
	}
	if v := testutil.ToFloat64(observability.ChatStreamsActive); v != 0 {
		t.Errorf("active streams = %v after completion, want 0", v)
	}
}

func TestChatValidation(t *testing.T) {
	svc := NewChatService(&fakeStreamer{}, "", testLogger())

	for _, msg := range []string{"", "   \n"} {
		_, err := svc.Complete(context.Background(), msg, nil)
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("Complete(%q) error = %v, want ErrValidation", msg, err)
		}
	}
}

func TestChatNotConfigured(t *testing.T) {
	svc := NewChatService(nil, "", testLogger())

	_, err := svc.Stream(context.Background(), "hi", nil)
	if !errors.Is(err, apperror.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestChatUpstreamFailure(t *testing.T) {
	svc := NewChatService(&fakeStreamer{err: chat.ErrUpstream}, "", testLogger())
	_, err := svc.Complete(context.Background(), "hi", nil)
	if !errors.Is(err, apperror.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}

	mid := &fakeStreamer{chunks: []chat.Chunk{{Delta: "par"}, {Err: chat.ErrUpstream}}}
	svc = NewChatService(mid, "", testLogger())
	_, err = svc.Complete(context.Background(), "hi", nil)
	if !errors.Is(err, apperror.ErrUnavailable) {
		t.Errorf("mid-stream error = %v, want ErrUnavailable", err)
	}
}
