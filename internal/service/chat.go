package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/notebook-server/internal/apperror"
	"github.com/sakif/notebook-server/internal/chat"
	"github.com/sakif/notebook-server/internal/observability"
)

// MaxChatMessageLength bounds the user message of a chat request.
const MaxChatMessageLength = 32000

// ChatStreamer is the upstream a ChatService relays to. *chat.Client
// satisfies it.
type ChatStreamer interface {
	Stream(ctx context.Context, messages []chat.Message) (<-chan chat.Chunk, error)
}

// ChatService relays conversations to the chat upstream.
type ChatService struct {
	client       ChatStreamer
	systemPrompt string
	logger       *slog.Logger
}

// NewChatService creates a ChatService. A nil client makes every call fail
// with apperror.ErrUnavailable.
func NewChatService(client ChatStreamer, systemPrompt string, logger *slog.Logger) *ChatService {
	return &ChatService{
		client:       client,
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

// Stream validates the request and starts relaying the reply. The returned
// channel is closed when the reply ends; a failure after the first chunk is
// delivered as a final Chunk with Err.
func (s *ChatService) Stream(ctx context.Context, message string, history []chat.Message) (<-chan chat.Chunk, error) {
	if s.client == nil {
		return nil, apperror.Unavailable("chat is not configured")
	}
	if strings.TrimSpace(message) == "" {
		return nil, apperror.ValidationFailed("message", "message is required")
	}
	if len(message) > MaxChatMessageLength {
		return nil, apperror.ValidationFailed("message",
			fmt.Sprintf("message must be %d characters or less", MaxChatMessageLength))
	}

	upstream, err := s.client.Stream(ctx, chat.FormatMessages(s.systemPrompt, message, history))
	if err != nil {
		s.logger.Error("chat upstream failed", slog.String("error", err.Error()))
		return nil, apperror.Unavailable(err.Error())
	}

	observability.ChatStreamsActive.Inc()
	out := make(chan chat.Chunk)
	go func() {
		defer observability.ChatStreamsActive.Dec()
		defer close(out)
		for c := range upstream {
			if c.Err != nil {
				s.logger.Warn("chat stream ended with error", slog.String("error", c.Err.Error()))
			}
			select {
			case out <- c:
			case <-ctx.Done():
				// Keep draining so the upstream goroutine can exit.
				for range upstream {
				}
				return
			}
		}
	}()
	return out, nil
}

// Complete relays the request and returns the whole reply.
func (s *ChatService) Complete(ctx context.Context, message string, history []chat.Message) (string, error) {
	ch, err := s.Stream(ctx, message, history)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for c := range ch {
		if c.Err != nil {
			for range ch {
			}
			return "", apperror.Unavailable(c.Err.Error())
		}
		sb.WriteString(c.Delta)
	}
	return sb.String(), nil
}
