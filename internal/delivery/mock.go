package delivery

import (
	"context"
	"log/slog"
	"time"
)

// MockSender is a sender implementation that logs deliveries and always
// succeeds. It simulates a 10ms delay to mimic real sending latency. The
// message body is never logged: it carries the verification code.
type MockSender struct {
	channel string
	logger  *slog.Logger
}

// NewMockSender creates a new mock sender for the given channel.
func NewMockSender(channel string, logger *slog.Logger) *MockSender {
	return &MockSender{
		channel: channel,
		logger:  logger,
	}
}

// Name returns the name of this sender.
func (s *MockSender) Name() string {
	return "mock-" + s.channel
}

// Send logs the delivery and simulates a 10ms sending delay.
func (s *MockSender) Send(ctx context.Context, msg *Message) error {
	// Simulate sending delay.
	time.Sleep(10 * time.Millisecond)

	s.logger.InfoContext(ctx, "mock sender: message sent",
		slog.String("channel", s.channel),
		slog.String("recipient", msg.Recipient),
		slog.String("subject", msg.Subject),
	)
	return nil
}
