package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tmaxmax/go-sse"
)

// doneMarker is the data of the last event of a Chat Completions stream.
const doneMarker = "[DONE]"

// parseStream reads Chat Completions server-sent events from body and sends
// the content deltas on ch. It does not close ch.
//
//	data: {"choices":[{"delta":{"content":"Hel"}}]}
//
//	data: [DONE]
//
// Comments and events without data are ignored; a chunk that does not
// decode is skipped.
func parseStream(ctx context.Context, body io.Reader, ch chan<- Chunk) {
	send := func(c Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ev, err := range sse.Read(body, nil) {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			send(Chunk{Err: fmt.Errorf("%w: reading stream: %v", ErrUpstream, err)})
			return
		}
		if ev.Data == "" {
			continue
		}
		if ev.Data == doneMarker {
			return
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			send(Chunk{Err: fmt.Errorf("%w: %s", ErrUpstream, chunk.Error.Message)})
			return
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == nil || *choice.Delta.Content == "" {
				continue
			}
			if !send(Chunk{Delta: *choice.Delta.Content}) {
				return
			}
		}
	}
}
